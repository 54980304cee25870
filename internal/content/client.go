// Package content calls the generative content proxy for warnings, tips,
// reflection prompts, self-assessments and speech. Every call has a fixed
// fallback so callers never see a content error.
package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/ledger"
	"github.com/goodtune/untether/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const (
	FallbackWarning    = "The lens is stealing your focus. Reconnect with reality."
	EmptyWarning       = "Life is happening right now, beyond this lens. Look up."
	FallbackReflection = "What is one thing you noticed in the real world during your break?"
	EmptyReflection    = "What did the silence teach you today?"
	FallbackInsight    = "You've taken a significant step toward digital freedom today."
	DefaultVoice       = "Kore"

	maxTips = 3
)

// FallbackTips are returned when tips cannot be generated.
var FallbackTips = []string{
	"Try the 20-20-20 rule for eye strain.",
	"Leave your phone in another room during focused work.",
	"Go for a 5-minute walk without any devices.",
}

// FallbackAssessment is used when the assessment cannot be scored.
func FallbackAssessment() ledger.Assessment {
	return ledger.Assessment{
		Score:    65,
		Category: "The Habitual Checker",
		Breakdown: []ledger.BreakdownItem{
			{Name: "Habit", Value: 40},
			{Name: "Boredom", Value: 30},
			{Name: "Anxiety", Value: 30},
		},
	}
}

var errDisabled = errors.New("content generation disabled")

// Config holds client settings.
type Config struct {
	Enabled   bool
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	Voice     string
	CacheSize int
}

// UsageSummary is the input for tips and insights.
type UsageSummary struct {
	Date       string  `json:"-"`
	ScreenTime float64 `json:"screenTime"`
	TimeSaved  float64 `json:"timeSaved"`
	Streak     int     `json:"streak"`
}

// SummaryFromStats extracts the tip input from the aggregate.
func SummaryFromStats(stats ledger.UserStats, date string) UsageSummary {
	return UsageSummary{
		Date:       date,
		ScreenTime: stats.ScreenTime,
		TimeSaved:  stats.TotalTimeSaved,
		Streak:     stats.Streak,
	}
}

type generateRequest struct {
	Prompt            string          `json:"prompt"`
	SystemInstruction string          `json:"systemInstruction,omitempty"`
	ResponseSchema    json.RawMessage `json:"responseSchema,omitempty"`
	Temperature       float64         `json:"temperature,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type speechResponse struct {
	Audio string `json:"audio"`
	Error string `json:"error,omitempty"`
}

var (
	assessmentSchema = json.RawMessage(`{"type":"OBJECT","properties":{"score":{"type":"NUMBER"},"category":{"type":"STRING"},"breakdown":{"type":"ARRAY","items":{"type":"OBJECT","properties":{"name":{"type":"STRING"},"value":{"type":"NUMBER"}}}}}}`)
	tipsSchema       = json.RawMessage(`{"type":"ARRAY","items":{"type":"STRING"}}`)
)

// Client talks to the content proxy.
type Client struct {
	config Config
	http   *http.Client
	clock  clock.Clock
	tips   *lru.Cache[string, []string]
	logger zerolog.Logger
}

// New creates a content client.
func New(config Config, clk clock.Clock, logger zerolog.Logger) (*Client, error) {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 16
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	cache, err := lru.New[string, []string](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tips cache: %w", err)
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		clock:  clk,
		tips:   cache,
		logger: logger.With().Str("component", "content").Logger(),
	}, nil
}

// Enabled reports whether the proxy will be called.
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.Endpoint != ""
}

// WarningMessage returns a short nudge for someone who spent usage on app,
// written in the given persona style.
func (c *Client) WarningMessage(ctx context.Context, app, usage, style string) string {
	prompt := fmt.Sprintf(
		"Write a warning for someone who has spent %s on %s. Style: %s. "+
			"Encourage them to put the phone down and look at the real world. "+
			"Stay under 20 words.", usage, app, style)

	text, err := c.generate(ctx, "warning", generateRequest{Prompt: prompt, Temperature: 0.8})
	if err != nil {
		return FallbackWarning
	}
	if text = strings.TrimSpace(text); text == "" {
		return EmptyWarning
	}
	return text
}

// ReflectionQuestion returns an open question for the post-session journal.
func (c *Client) ReflectionQuestion(ctx context.Context) string {
	prompt := "Write one open-ended mindfulness question that helps someone " +
		"reflect on their day after a deep focus session. At most 15 words."

	text, err := c.generate(ctx, "reflection", generateRequest{Prompt: prompt, Temperature: 0.9})
	if err != nil {
		return FallbackReflection
	}
	if text = strings.TrimSpace(text); text == "" {
		return EmptyReflection
	}
	return text
}

// Assessment scores the self-assessment answers.
func (c *Client) Assessment(ctx context.Context, answers map[string]string) ledger.Assessment {
	encoded, _ := json.Marshal(answers)
	prompt := fmt.Sprintf(
		"Analyze these digital addiction assessment answers: %s. "+
			"Return a JSON object with score (0-100), category (a creative profile name) "+
			"and breakdown, an array of {name, value} usage drivers.", encoded)

	result := FallbackAssessment()
	text, err := c.generate(ctx, "assessment", generateRequest{Prompt: prompt, ResponseSchema: assessmentSchema})
	if err == nil {
		var parsed ledger.Assessment
		if jerr := json.Unmarshal([]byte(text), &parsed); jerr != nil || parsed.Category == "" {
			c.logger.Warn().Err(jerr).Msg("Unusable assessment response, using fallback")
		} else {
			result = parsed
		}
	}

	result.Score = min(max(result.Score, 0), 100)
	result.LastTaken = c.clock.Now().UTC().Format(time.RFC3339)
	return result
}

// MindfulTips returns up to three tips for the day. Results are cached per
// date and input.
func (c *Client) MindfulTips(ctx context.Context, summary UsageSummary) []string {
	key := fmt.Sprintf("%s|%.0f|%.0f|%d", summary.Date, summary.ScreenTime, summary.TimeSaved, summary.Streak)
	if tips, ok := c.tips.Get(key); ok {
		return append([]string(nil), tips...)
	}

	encoded, _ := json.Marshal(summary)
	prompt := fmt.Sprintf(
		"Based on these usage stats: %s, give 3 short, actionable mindfulness tips "+
			"to reduce digital clutter and improve focus.", encoded)

	text, err := c.generate(ctx, "tips", generateRequest{Prompt: prompt, ResponseSchema: tipsSchema})
	if err != nil {
		return append([]string(nil), FallbackTips...)
	}

	var tips []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &tips); err != nil {
		c.logger.Warn().Err(err).Msg("Unusable tips response, using fallback")
		return append([]string(nil), FallbackTips...)
	}
	if len(tips) == 0 {
		c.logger.Warn().Msg("Empty tips response, using fallback")
		return append([]string(nil), FallbackTips...)
	}
	if len(tips) > maxTips {
		tips = tips[:maxTips]
	}
	c.tips.Add(key, tips)
	return append([]string(nil), tips...)
}

// Insight returns the headline line for the daily summary.
func (c *Client) Insight(ctx context.Context, summary UsageSummary) string {
	tips := c.MindfulTips(ctx, summary)
	if len(tips) == 0 || tips[0] == "" {
		return FallbackInsight
	}
	return tips[0]
}

// Speak converts text to 24 kHz mono 16-bit PCM. ok is false when speech is
// unavailable.
func (c *Client) Speak(ctx context.Context, text, voice string) (pcm []byte, ok bool) {
	if voice == "" {
		voice = c.config.Voice
	}
	if !c.Enabled() {
		metrics.ContentRequests.WithLabelValues("speech", "disabled").Inc()
		return nil, false
	}

	var resp speechResponse
	if err := c.post(ctx, c.config.Endpoint+"/speech", speechRequest{Text: text, Voice: voice}, &resp); err != nil {
		c.fail("speech", err)
		return nil, false
	}
	if resp.Audio == "" {
		c.fail("speech", errors.New("no audio data returned"))
		return nil, false
	}
	audio, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		c.fail("speech", fmt.Errorf("decode audio: %w", err))
		return nil, false
	}
	metrics.ContentRequests.WithLabelValues("speech", "success").Inc()
	return audio, true
}

func (c *Client) generate(ctx context.Context, kind string, req generateRequest) (string, error) {
	if !c.Enabled() {
		metrics.ContentRequests.WithLabelValues(kind, "disabled").Inc()
		return "", errDisabled
	}

	var resp generateResponse
	if err := c.post(ctx, c.config.Endpoint, req, &resp); err != nil {
		c.fail(kind, err)
		return "", err
	}
	metrics.ContentRequests.WithLabelValues(kind, "success").Inc()
	return resp.Text, nil
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call content proxy: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("content proxy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) fail(kind string, err error) {
	metrics.ContentRequests.WithLabelValues(kind, "fallback").Inc()
	c.logger.Warn().Err(err).Str("kind", kind).Msg("Content request failed, using fallback")
}
