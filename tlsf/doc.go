// Package tlsf implements a two-level segregated fit allocator over a
// caller-provided byte pool.
//
// Blocks are addressed by byte offset into the pool rather than by pointer
// ([Ptr], with 0 acting as the null value), which keeps the free-list graph
// and the coalescing walk bounds-checked, and makes the integrity check safe
// to run over live state.
//
// The allocator is good-fit, constant time: a requested size maps to a
// (first-level, second-level) class pair, and two scalar bitmaps locate the
// first non-empty class at or above it without looping over classes. Freed
// blocks coalesce eagerly with their physical neighbours, so two adjacent
// blocks are never both free.
//
// Every exported operation serializes on a single injected lock (see
// [WithLocker]); internal helpers are lock-free, which is what keeps
// Realloc's internal free path reentrancy-safe.
package tlsf
