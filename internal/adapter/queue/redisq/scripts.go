package redisq

import "github.com/redis/go-redis/v9"

// The queue state lives in four structures per queue name:
//
//	{name}:wait   ZSET  waiting jobs, score = seq - priority*1e12
//	{name}:active ZSET  claimed jobs, score = lease deadline (unix ms)
//	{name}:ids    SET   known job ids (dedupe across wait+active)
//	{name}:job:id HASH  payload, priority, enqueued_at, ats, atm
//
// Higher priority pops first; equal priorities are FIFO by sequence.
// All transitions are single Lua scripts so they are atomic.

// KEYS: wait, ids, job, seq; ARGV: id, payload, priority, enqueuedAtMs
var enqueueScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
  return 0
end
local seq = redis.call("INCR", KEYS[4])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[3], "payload", ARGV[2], "priority", ARGV[3], "enqueued_at", ARGV[4], "ats", 0, "atm", 0)
redis.call("ZADD", KEYS[1], seq - tonumber(ARGV[3]) * 1e12, ARGV[1])
return 1
`)

// Every claim mints a fencing token stored on the job hash. Renew and
// finish verify it, so a holder that stalled past its lease and was
// superseded by a re-claim cannot keep the lease alive or remove the
// new holder's job.

// KEYS: wait, active; ARGV: leaseDeadlineMs, jobKeyPrefix, token
var claimScript = redis.NewScript(`
local popped = redis.call("ZPOPMIN", KEYS[1], 1)
if #popped == 0 then
  return false
end
local id = popped[1]
redis.call("ZADD", KEYS[2], tonumber(ARGV[1]), id)
local jobkey = ARGV[2] .. id
redis.call("HINCRBY", jobkey, "ats", 1)
redis.call("HSET", jobkey, "token", ARGV[3])
local data = redis.call("HMGET", jobkey, "payload", "priority", "enqueued_at", "ats", "atm")
return {id, data[1], data[2], data[3], data[4], data[5]}
`)

// KEYS: active; ARGV: id, leaseDeadlineMs, token, jobKeyPrefix
var renewScript = redis.NewScript(`
if redis.call("ZSCORE", KEYS[1], ARGV[1]) == false then
  return 0
end
if redis.call("HGET", ARGV[4] .. ARGV[1], "token") ~= ARGV[3] then
  return 0
end
redis.call("ZADD", KEYS[1], "XX", tonumber(ARGV[2]), ARGV[1])
return 1
`)

// KEYS: active, ids; ARGV: id, jobKeyPrefix, token
// Jobs are removed on completion and on failure alike; auditing lives
// in the job log, not the queue.
var finishScript = redis.NewScript(`
if redis.call("HGET", ARGV[2] .. ARGV[1], "token") ~= ARGV[3] then
  return 0
end
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("DEL", ARGV[2] .. ARGV[1])
return removed
`)

// KEYS: active, wait, seq; ARGV: nowMs, jobKeyPrefix
var requeueStalledScript = redis.NewScript(`
local stalled = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(stalled) do
  redis.call("ZREM", KEYS[1], id)
  local jobkey = ARGV[2] .. id
  local prio = tonumber(redis.call("HGET", jobkey, "priority") or "0")
  redis.call("HINCRBY", jobkey, "atm", 1)
  redis.call("HDEL", jobkey, "token")
  local seq = redis.call("INCR", KEYS[3])
  redis.call("ZADD", KEYS[2], seq - prio * 1e12, id)
end
return #stalled
`)
