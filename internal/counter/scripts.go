package counter

import "github.com/redis/go-redis/v9"

// Reply codes of reserveScript.
const (
	codeAccepted  = 1
	codeSoldOut   = 0
	codeDuplicate = -1
	codeInactive  = -2
	codeClosed    = -3
	codeReplayed  = 2
)

// KEYS: stock, claims, meta. ARGV: user, request id, now millis.
// Marker presence, window and remaining stock are checked and the unit is
// taken in one step; nothing else can observe the stock between the check
// and the decrement.
var reserveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -2
end
local now = tonumber(ARGV[3])
local window = redis.call("HMGET", KEYS[3], "starts_at", "ends_at", "expire_at")
if window[1] and now < tonumber(window[1]) then
  return -3
end
if window[2] and now >= tonumber(window[2]) then
  return -3
end
local held = redis.call("HGET", KEYS[2], ARGV[1])
if held then
  if string.sub(held, 1, #ARGV[2] + 1) == ARGV[2] .. "|" then
    return 2
  end
  return -1
end
local remaining = tonumber(redis.call("GET", KEYS[1]))
if remaining <= 0 then
  return 0
end
redis.call("DECR", KEYS[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2] .. "|" .. ARGV[3])
if window[3] then
  redis.call("PEXPIREAT", KEYS[2], window[3])
end
return 1
`)

// KEYS: stock, claims, meta. ARGV: user, request id (empty matches any).
// Returns 1 when the marker was held and the unit went back to stock.
var releaseScript = redis.NewScript(`
local held = redis.call("HGET", KEYS[2], ARGV[1])
if not held then
  return 0
end
if ARGV[2] ~= "" and string.sub(held, 1, #ARGV[2] + 1) ~= ARGV[2] .. "|" then
  return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 1
end
local remaining = redis.call("INCR", KEYS[1])
local total = tonumber(redis.call("HGET", KEYS[3], "total"))
if total and remaining > total then
  redis.call("SET", KEYS[1], total, "KEEPTTL")
end
return 1
`)

// KEYS: stock, claims, meta. ARGV: total, starts_at, ends_at, expire_at.
// Writes whichever of stock and meta is missing. A rebuilt stock starts at
// total minus the markers still held. Returns 0 when nothing was written.
var initializeScript = redis.NewScript(`
local wrote = 0
if redis.call("EXISTS", KEYS[3]) == 0 then
  redis.call("HSET", KEYS[3], "total", ARGV[1], "starts_at", ARGV[2], "ends_at", ARGV[3], "expire_at", ARGV[4])
  redis.call("PEXPIREAT", KEYS[3], ARGV[4])
  wrote = 1
end
if redis.call("EXISTS", KEYS[1]) == 0 then
  local remaining = tonumber(ARGV[1]) - redis.call("HLEN", KEYS[2])
  if remaining < 0 then
    remaining = 0
  end
  redis.call("SET", KEYS[1], remaining)
  redis.call("PEXPIREAT", KEYS[1], ARGV[4])
  if redis.call("EXISTS", KEYS[2]) == 1 then
    redis.call("PEXPIREAT", KEYS[2], ARGV[4])
  end
  wrote = 1
end
return wrote
`)

// KEYS: stock, claims, meta. Returns {remaining, total, field, value, ...}
// with remaining = -1 when the campaign has no counter.
var snapshotScript = redis.NewScript(`
local out = {}
local remaining = redis.call("GET", KEYS[1])
if not remaining then
  out[1] = -1
else
  out[1] = tonumber(remaining)
end
local total = redis.call("HGET", KEYS[3], "total")
if not total then
  out[2] = -1
else
  out[2] = tonumber(total)
end
local claims = redis.call("HGETALL", KEYS[2])
for i = 1, #claims do
  out[#out + 1] = claims[i]
end
return out
`)

// KEYS: stock, meta. ARGV: delta. Result is clamped to [0, total].
var adjustScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local remaining = redis.call("INCRBY", KEYS[1], ARGV[1])
if remaining < 0 then
  redis.call("SET", KEYS[1], 0, "KEEPTTL")
  return 0
end
local total = tonumber(redis.call("HGET", KEYS[2], "total"))
if total and remaining > total then
  redis.call("SET", KEYS[1], total, "KEEPTTL")
  return total
end
return remaining
`)

// KEYS: claims, meta. ARGV: user, marker value.
var restoreScript = redis.NewScript(`
local set = redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2])
local expireAt = redis.call("HGET", KEYS[2], "expire_at")
if set == 1 and expireAt then
  redis.call("PEXPIREAT", KEYS[1], expireAt)
end
return set
`)
