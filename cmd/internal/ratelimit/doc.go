// Package ratelimit implements per-client token buckets for request admission.
//
// Each (client key, class) pair owns one bucket. Buckets start full, refill
// lazily on access and are never shared between classes. MemoryLimiter keeps
// buckets in process; RedisLimiter keeps them in Redis so several replicas
// share one budget per client.
package ratelimit
