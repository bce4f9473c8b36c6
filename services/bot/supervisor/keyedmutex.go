package supervisor

import "sync"

// keyedMutex lends out one *sync.Mutex per key, on the teacher's
// LoadOrStore idiom for per-key startup serialization: unrelated keys
// never contend with each other, only repeated operations on the same key
// do.
type keyedMutex struct {
	locks sync.Map // string -> *sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	lockI, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	lock := lockI.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}
