package tracer

import "sync"

// resumeSignal is a one-shot broadcast: fire is safe to call more than once
// (Detach fires it again at shutdown even if a client already resumed the
// thread), wait blocks until the first fire.
type resumeSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newResumeSignal() *resumeSignal {
	return &resumeSignal{ch: make(chan struct{})}
}

func (s *resumeSignal) fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *resumeSignal) wait() {
	<-s.ch
}
