package cache

import "sync"

// Locks 是按键加锁的互斥表，引用计数归零后自动回收，避免 map 无限增长。
type Locks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks 创建空的互斥表。
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*entryLock)}
}

// Lock 阻塞直到获得 key 的独占锁，返回解锁函数。
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &entryLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len 返回当前被持有或等待中的键数量。
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
