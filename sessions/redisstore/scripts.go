package redisstore

import "github.com/redis/go-redis/v9"

// rotateScript compares the presented hash with the current one and swaps in
// the new hash. A presented hash found in the lineage revokes the session.
//
// KEYS[1] session, KEYS[2] lineage
// ARGV[1] presented hash, ARGV[2] new hash, ARGV[3] now ms, ARGV[4] new expiry ms or ""
var rotateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return {'missing'}
end
local f = redis.call('HMGET', KEYS[1], 'refresh_hash', 'expires_at', 'revoked')
if f[3] == '1' then
	return {'revoked'}
end
local now = tonumber(ARGV[3])
if tonumber(f[2]) <= now then
	return {'expired'}
end
if f[1] ~= ARGV[1] then
	if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
		redis.call('HSET', KEYS[1], 'revoked', '1', 'revoked_at', ARGV[3])
		return {'reuse'}
	end
	return {'mismatch'}
end
local expiresAt = f[2]
if ARGV[4] ~= '' then
	expiresAt = ARGV[4]
end
local expires = tonumber(expiresAt)
redis.call('HSET', KEYS[1], 'refresh_hash', ARGV[2], 'last_rotated_at', ARGV[3], 'expires_at', expiresAt)
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('PEXPIRE', KEYS[1], expires - now)
redis.call('PEXPIRE', KEYS[2], expires - now)
local out = redis.call('HGETALL', KEYS[1])
table.insert(out, 1, 'ok')
return out
`)

// revokeScript marks a live session revoked, keeping its TTL
//
// KEYS[1] session
// ARGV[1] now ms
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1', 'revoked_at', ARGV[1])
return 1
`)

// indexScript adds a session to its user's index, extending the index TTL so
// it outlives every member
//
// KEYS[1] user index
// ARGV[1] session id, ARGV[2] ttl ms
var indexScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
local current = redis.call('PTTL', KEYS[1])
if current < ttl then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)
