package fabric

import "sync"

type eventLog struct {
	mu     sync.Mutex
	labels []string
}

func (l *eventLog) CircuitEvent(label string) {
	l.mu.Lock()
	l.labels = append(l.labels, label)
	l.mu.Unlock()
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.labels)
}
