package opa

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policies/*.rego
var embedded embed.FS

const blockQuery = "data.untether.block.decision"

// Engine wraps OPA rego engine for block decisions. Policies come from
// policyDir when it holds .rego files, otherwise from the embedded defaults.
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu         sync.RWMutex
	blockQuery rego.PreparedEvalQuery
	modules    map[string]*ast.Module
	source     string
}

// NewEngine creates a new OPA engine
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	e.logger.Info().Str("source", e.Source()).Msg("OPA engine initialized")
	return e, nil
}

// Source reports where the active policies were loaded from.
func (e *Engine) Source() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.source
}

func (e *Engine) load() error {
	modules, source, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepare(modules)
	if err != nil {
		return fmt.Errorf("failed to prepare block query: %w", err)
	}

	e.mu.Lock()
	e.modules = modules
	e.blockQuery = query
	e.source = source
	e.mu.Unlock()
	return nil
}

// loadPolicies parses the .rego files from the policy directory, falling
// back to the embedded policies.
func (e *Engine) loadPolicies() (map[string]*ast.Module, string, error) {
	if e.policyDir != "" {
		files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
		if err != nil {
			return nil, "", fmt.Errorf("failed to glob policy files: %w", err)
		}
		if len(files) > 0 {
			modules, err := parseFiles(files, os.ReadFile)
			return modules, e.policyDir, err
		}
		e.logger.Warn().Str("policy_dir", e.policyDir).Msg("No policy files found, using embedded policies")
	}

	files, err := fs.Glob(embedded, "policies/*.rego")
	if err != nil {
		return nil, "", fmt.Errorf("failed to list embedded policies: %w", err)
	}
	modules, err := parseFiles(files, func(name string) ([]byte, error) {
		return embedded.ReadFile(name)
	})
	return modules, "embedded", err
}

func parseFiles(files []string, read func(string) ([]byte, error)) (map[string]*ast.Module, error) {
	sort.Strings(files)
	modules := make(map[string]*ast.Module, len(files))
	for _, file := range files {
		content, err := read(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		module, err := ast.ParseModule(file, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", file, err)
		}
		modules[file] = module
	}
	return modules, nil
}

func prepare(modules map[string]*ast.Module) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){rego.Query(blockQuery)}
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}
	return rego.New(opts...).PrepareForEval(context.Background())
}

// Decision is the raw decision document produced by the policy.
type Decision struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// EvaluateBlock evaluates the block decision for input.
func (e *Engine) EvaluateBlock(ctx context.Context, input map[string]interface{}) (*Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.blockQuery
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("block query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Block query evaluated")

	if len(results) == 0 {
		return nil, fmt.Errorf("no results from block query")
	}
	if len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("no expressions in block query result")
	}

	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal block decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block decision: %w", err)
	}
	return &decision, nil
}

// Reload reloads all policies. Evaluations keep using the previous query
// until the new one is ready, and a failed reload leaves it in place.
func (e *Engine) Reload() error {
	e.logger.Info().Msg("Reloading OPA policies")

	if err := e.load(); err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}

	e.logger.Info().Str("source", e.Source()).Msg("OPA policies reloaded successfully")
	return nil
}
