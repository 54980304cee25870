package redis

const (
	// putProfileScript writes the profile hash, bumps its version and
	// records the write time in the profile index
	putProfileScript = `
local profile_key = KEYS[1]   -- untether:profile:{userID}
local index_key = KEYS[2]     -- untether:profiles

local user_id = ARGV[1]
local stats = ARGV[2]
local updated_at = ARGV[3]
local updated_ms = tonumber(ARGV[4])

redis.call('HSET', profile_key,
  'user_id', user_id,
  'stats', stats,
  'updated_at', updated_at
)
local version = redis.call('HINCRBY', profile_key, 'version', 1)
redis.call('ZADD', index_key, updated_ms, user_id)

return version
`
)
