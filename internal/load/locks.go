package load

import "sync"

// destLocks hands out one mutex per destination name. Entries are removed
// once no writer holds or waits for them.
type destLocks struct {
	mu    sync.Mutex
	locks map[string]*destLock
}

type destLock struct {
	sync.Mutex
	refs int
}

// lock blocks until dest is free and returns the unlock function.
func (d *destLocks) lock(dest string) func() {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*destLock)
	}
	l, ok := d.locks[dest]
	if !ok {
		l = &destLock{}
		d.locks[dest] = l
	}
	l.refs++
	d.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, dest)
		}
		d.mu.Unlock()
	}
}
