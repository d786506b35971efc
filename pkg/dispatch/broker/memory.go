package broker

import (
	"context"
	"sync"
)

// Memory is an in-process Broker fake for dispatcher tests: it records every
// published message and can be told to fail the next N publishes, the way
// the dispatch tests need to exercise retry/backoff (spec §8 scenario 4)
// without a real broker.
type Memory struct {
	mu        sync.Mutex
	published []Message
	failNext  int
	failErr   error
}

// NewMemory returns an empty Memory broker.
func NewMemory() *Memory {
	return &Memory{}
}

// FailNext arranges for the next n Publish calls to return err.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Publish records msg, or returns the configured failure.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}

	m.published = append(m.published, msg)
	return nil
}

// Published returns every message recorded so far.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
