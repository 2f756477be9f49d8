// ABOUTME: Per-recipient mutexes for the fetch-then-mark receive sequence
// ABOUTME: Entries are reference counted and dropped when no caller holds them

package mailbox

import "sync"

type recipientLock struct {
	mu   sync.Mutex
	refs int
}

type recipientLocks struct {
	mu    sync.Mutex
	locks map[string]*recipientLock
}

func newRecipientLocks() *recipientLocks {
	return &recipientLocks{locks: make(map[string]*recipientLock)}
}

// lock acquires the mutex for id and returns its release function.
func (l *recipientLocks) lock(id string) func() {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &recipientLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *recipientLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
