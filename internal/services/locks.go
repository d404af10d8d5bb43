package services

import "sync"

// workerLocks serializes pulse ingestion and manual clock actions per
// worker. Cross-worker operations share nothing and run in parallel.
type workerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newWorkerLocks() *workerLocks {
	return &workerLocks{locks: map[string]*sync.Mutex{}}
}

// lock acquires the worker's mutex and returns the release func.
func (l *workerLocks) lock(workerID string) func() {
	l.mu.Lock()
	m, ok := l.locks[workerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[workerID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
