// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package redisstore

import "github.com/redis/go-redis/v9"

// Script results below zero mean the session key does not exist; zero
// means a precondition failed.
const (
	resultMissing  = -1
	resultConflict = 0
)

// KEYS: session, ref, principal set, refs set, expiry zset, invalidated zset
// ARGV: id, refresh hash, expires_at, invalidated_at or "", field/value pairs...
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[2])
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[6], ARGV[4], ARGV[1])
end
return 1
`)

// KEYS: session, invalidated zset
// ARGV: id, invalidated_at, reason
var invalidateScript = redis.NewScript(`
local valid = redis.call('HGET', KEYS[1], 'valid')
if not valid then
  return -1
end
if valid ~= '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'valid', '0', 'invalidated_at', ARGV[2], 'invalid_reason', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// KEYS: session, new ref, refs set
// ARGV: id, old hash, new hash, at
var rotateScript = redis.NewScript(`
local s = redis.call('HMGET', KEYS[1], 'refresh_hash', 'valid', 'expires_at')
if not s[1] then
  return -1
end
if s[1] ~= ARGV[2] or s[2] ~= '1' or tonumber(s[3]) < tonumber(ARGV[4]) then
  return 0
end
redis.call('HSET', KEYS[1], 'refresh_hash', ARGV[3], 'last_activity_at', ARGV[4])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS: session, expiry zset
// ARGV: id, expires_at
var extendScript = redis.NewScript(`
local valid = redis.call('HGET', KEYS[1], 'valid')
if not valid then
  return -1
end
if valid ~= '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// purgeScript removes one batch of dead sessions and returns
// {purged, scanned}. Related keys are derived from the prefix, so the
// store requires a single-node deployment or a prefix-wide hash tag.
//
// KEYS: expiry zset, invalidated zset
// ARGV: cutoff, key prefix, batch size
var purgeScript = redis.NewScript(`
local bound = '(' .. ARGV[1]
local prefix = ARGV[2]
local limit = tonumber(ARGV[3])
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', bound, 'LIMIT', 0, limit)
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', bound, 'LIMIT', 0, limit)) do
  table.insert(ids, id)
end
local purged = 0
for _, id in ipairs(ids) do
  local key = prefix .. 'session:' .. id
  local principal = redis.call('HGET', key, 'principal_id')
  if principal then
    for _, h in ipairs(redis.call('SMEMBERS', key .. ':refs')) do
      redis.call('DEL', prefix .. 'ref:' .. h)
    end
    redis.call('DEL', key, key .. ':refs')
    redis.call('SREM', prefix .. 'principal:' .. principal, id)
    purged = purged + 1
  end
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
end
return {purged, #ids}
`)
