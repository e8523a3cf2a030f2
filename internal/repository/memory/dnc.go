package memory

import (
	"context"
	"sync"
)

// DNCList is an in-memory Do-Not-Call registry keyed by business and number.
type DNCList struct {
	mu      sync.RWMutex
	numbers map[string]map[string]string
}

func NewDNCList() *DNCList {
	return &DNCList{numbers: make(map[string]map[string]string)}
}

func (l *DNCList) IsBlocked(_ context.Context, businessID, phone string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.numbers[businessID][phone]
	return ok, nil
}

func (l *DNCList) Add(_ context.Context, businessID, phone, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.numbers[businessID] == nil {
		l.numbers[businessID] = make(map[string]string)
	}
	l.numbers[businessID][phone] = reason
	return nil
}

func (l *DNCList) Remove(_ context.Context, businessID, phone string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.numbers[businessID], phone)
	return nil
}
