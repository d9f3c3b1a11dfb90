// Package ratelimit implements the per-client request limiter that sits
// behind admission on every HTTP and gRPC request.
//
// Two algorithms satisfy the same contract (N requests per window W):
// FixedWindow keeps one counter per client and SlidingLog keeps the
// timestamps of admitted requests. Both own their client map exclusively,
// guard it with a single mutex, and bound it with a periodic sweep (Run) and
// a max-clients cap that evicts the least recently seen client.
package ratelimit
