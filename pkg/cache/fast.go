package cache

import (
	"bytes"
	"container/list"
	"sync"
	"time"
)

type fastEntry struct {
	key        string
	value      []byte
	lastAccess time.Time
	// expiresAt slides forward on every hit but never past hardExpiry.
	expiresAt  time.Time
	hardExpiry time.Time
}

func (e *fastEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt) || now.After(e.hardExpiry)
}

// fastLevel is a bounded LRU with sliding expiry. The front of ll is the most
// recently accessed entry.
type fastLevel struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxItems int
	ll       *list.List
	items    map[string]*list.Element
}

func newFastLevel(ttl time.Duration, maxItems int) *fastLevel {
	return &fastLevel{
		ttl:      ttl,
		maxItems: maxItems,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (f *fastLevel) slide(now, hard time.Time) time.Time {
	exp := now.Add(f.ttl)
	if exp.After(hard) {
		return hard
	}
	return exp
}

func (f *fastLevel) get(key string, now time.Time) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	el, ok := f.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*fastEntry)
	if e.expired(now) {
		f.removeElement(el)
		return nil, false
	}
	e.lastAccess = now
	e.expiresAt = f.slide(now, e.hardExpiry)
	f.ll.MoveToFront(el)
	return bytes.Clone(e.value), true
}

// set stores value and returns how many live entries were evicted to make
// room.
func (f *fastLevel) set(key string, value []byte, now, hardExpiry time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if el, ok := f.items[key]; ok {
		e := el.Value.(*fastEntry)
		e.value = bytes.Clone(value)
		e.lastAccess = now
		e.hardExpiry = hardExpiry
		e.expiresAt = f.slide(now, hardExpiry)
		f.ll.MoveToFront(el)
		return 0
	}

	evicted := 0
	if f.ll.Len() >= f.maxItems {
		f.purgeLocked(now)
		for f.ll.Len() >= f.maxItems && f.ll.Len() > 0 {
			f.removeElement(f.ll.Back())
			evicted++
		}
	}

	e := &fastEntry{
		key:        key,
		value:      bytes.Clone(value),
		lastAccess: now,
		expiresAt:  f.slide(now, hardExpiry),
		hardExpiry: hardExpiry,
	}
	f.items[key] = f.ll.PushFront(e)
	return evicted
}

func (f *fastLevel) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el, ok := f.items[key]; ok {
		f.removeElement(el)
	}
}

func (f *fastLevel) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ll.Init()
	f.items = make(map[string]*list.Element)
}

func (f *fastLevel) purge(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purgeLocked(now)
}

func (f *fastLevel) purgeLocked(now time.Time) int {
	removed := 0
	for el := f.ll.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*fastEntry).expired(now) {
			f.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

func (f *fastLevel) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ll.Len()
}

func (f *fastLevel) removeElement(el *list.Element) {
	f.ll.Remove(el)
	delete(f.items, el.Value.(*fastEntry).key)
}
