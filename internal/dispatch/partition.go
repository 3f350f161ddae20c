package dispatch

import "hash/fnv"

// slotFor maps a resource ID onto one of n slots. FNV-1a keeps the mapping
// stable across restarts, so per-resource ordering survives a process
// bounce as long as the slot count is unchanged.
func slotFor(resourceID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(resourceID))
	return int(h.Sum32() % uint32(n))
}
