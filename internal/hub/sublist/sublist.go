package sublist

import (
	"sync"

	"safehome.dev/backend/internal/hub/subscriber"
)

// Map holds one Sublist per child room, created lazily.
type Map struct {
	mu   sync.Mutex
	list map[string]*Sublist
}

// Sublist is the set of subscribers of one child's room.
type Sublist struct {
	key  string
	mu   sync.Mutex
	list map[subscriber.Subscriber]bool
}

func NewMap() *Map {
	m := &Map{}
	m.list = make(map[string]*Sublist)
	return m
}

func (m *Map) GetSublist(key string, create bool) (*Sublist, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	l = &Sublist{key: key, list: make(map[subscriber.Subscriber]bool)}
	m.list[key] = l
	return l, true
}

func (s *Sublist) Subscribe(sub subscriber.Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub subscriber.Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

// Send pushes d to every live subscriber, dropping closed ones inline.
func (s *Sublist) Send(d []byte) {
	s.mu.Lock()
	for sub := range s.list {
		closed := sub.Push(s.key, d)
		if closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

// Evict removes every subscriber bound to userId.
func (s *Sublist) Evict(userId string) {
	s.mu.Lock()
	for sub := range s.list {
		if sub.UserId() == userId {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
