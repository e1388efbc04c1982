// Package batch provides the building blocks for long-running bulk operations
// against the memory service.
//
// Key pieces:
//   - Chunk / CalculateBatches split target ids into ordered, disjoint slices
//     (default 200 items per chunk)
//   - Progress and Estimate compute processed counts, throughput and a
//     memoryless ETA for real, chunk-driven progress
//   - Simulator produces a heuristic, timer-driven estimate for atomic calls
//     that report no incremental progress
//   - Token is the one-way cancellation signal shared by every request of an
//     operation
//   - Processor runs a callback per chunk, sequentially or with bounded
//     concurrency, and stops at the first error or cancellation
package batch
