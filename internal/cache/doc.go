// Package cache provides a fixed-capacity least-recently-used table.
//
//	lru := cache.NewLRU[uint64, *slot](5)
//	if old, evicted := lru.Put(id, s); evicted {
//		release(old.Value)
//	}
//
// LRU is not safe for concurrent use. It backs per-context bookkeeping that
// is only touched from the goroutine building that context's commands.
package cache
