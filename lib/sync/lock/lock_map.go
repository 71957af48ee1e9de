package lock

import "sync"

// fnv prime, see https://en.wikipedia.org/wiki/Fowler–Noll–Vo_hash_function
const prime32 = uint32(16777619)

// Locks provides mutual exclusion scoped to a key. Keys are spread over a
// fixed table of mutexes so the number of locks stays bounded no matter how
// many distinct keys show up.
type Locks struct {
	table []*sync.RWMutex
}

// Make creates a Locks with the given table size, which must be a power of two
func Make(tableSize int) *Locks {
	table := make([]*sync.RWMutex, tableSize)
	for i := 0; i < tableSize; i++ {
		table[i] = &sync.RWMutex{}
	}
	return &Locks{
		table: table,
	}
}

func fnv32(key string) uint32 {
	hash := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		hash *= prime32
		hash ^= uint32(key[i])
	}
	return hash
}

func (locks *Locks) spread(hashCode uint32) uint32 {
	tableSize := uint32(len(locks.table))
	return (tableSize - 1) & hashCode
}

// Lock acquires the exclusive lock covering the given key
func (locks *Locks) Lock(key string) {
	index := locks.spread(fnv32(key))
	locks.table[index].Lock()
}

// UnLock releases the exclusive lock covering the given key
func (locks *Locks) UnLock(key string) {
	index := locks.spread(fnv32(key))
	locks.table[index].Unlock()
}

// RLock acquires the shared lock covering the given key
func (locks *Locks) RLock(key string) {
	index := locks.spread(fnv32(key))
	locks.table[index].RLock()
}

// RUnLock releases the shared lock covering the given key
func (locks *Locks) RUnLock(key string) {
	index := locks.spread(fnv32(key))
	locks.table[index].RUnlock()
}
