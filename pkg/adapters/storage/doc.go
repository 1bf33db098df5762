// Package storage provides execution store implementations.
//
// Implementations:
//   - memory: in-process map with copy-on-read (default)
//   - redis: Redis with JSON serialization and TTL
package storage
