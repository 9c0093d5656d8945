package storage

import (
	"context"
	"sort"
	"sync"
)

// memStore keeps everything in process memory. Audit entries are dropped
// after a cap so a long-running test cannot grow without bound.
type memStore struct {
	mu       sync.Mutex
	messages map[string]string
	state    map[string]string
	audit    []AuditEntry
}

const memAuditCap = 1000

func openMemory() Store {
	return &memStore{
		messages: make(map[string]string),
		state:    make(map[string]string),
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	if len(s.audit) > memAuditCap {
		s.audit = s.audit[len(s.audit)-memAuditCap:]
	}
	return nil
}

func (s *memStore) PutMessage(ctx context.Context, name, text string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[name] = text
	return nil
}

func (s *memStore) GetMessage(ctx context.Context, name string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.messages[name]
	return text, ok, nil
}

func (s *memStore) DeleteMessage(ctx context.Context, name string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, name)
	return nil
}

func (s *memStore) ListMessages(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.messages))
	for name := range s.messages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStore) PutState(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func (s *memStore) GetState(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok, nil
}
