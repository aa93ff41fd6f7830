package report

import "sync"

// memoryEmitter keeps emitted events for inspection.
type memoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (e *memoryEmitter) Emit(events []Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, events...)
	return nil
}

func (e *memoryEmitter) Close() error { return nil }

func (e *memoryEmitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}
