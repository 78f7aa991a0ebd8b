package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errSynthesisDown = errors.New("synthesis endpoint unreachable")

// eventLog records what happened, in order, across both workers
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// filter returns the events whose prefix matches, preserving order
func (l *eventLog) filter(prefix string) []string {
	var out []string
	for _, e := range l.snapshot() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			out = append(out, e)
		}
	}
	return out
}

type conversionTiming struct {
	start   time.Time
	settled time.Time
}

// fakeSynth converts text after a per-text delay, optionally failing
type fakeSynth struct {
	log     *eventLog
	delays  map[string]time.Duration
	fail    map[string]bool
	empty   map[string]bool
	onStart func(text string)

	mu       sync.Mutex
	inFlight int
	maxIn    int
	timings  []conversionTiming
}

func newFakeSynth(log *eventLog) *fakeSynth {
	return &fakeSynth{
		log:    log,
		delays: map[string]time.Duration{},
		fail:   map[string]bool{},
		empty:  map[string]bool{},
	}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	start := time.Now()
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxIn {
		f.maxIn = f.inFlight
	}
	f.mu.Unlock()

	f.log.add("convert-start:" + text)
	if f.onStart != nil {
		f.onStart(text)
	}

	var err error
	if d := f.delays[text]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err == nil && f.fail[text] {
		err = errSynthesisDown
	}

	f.mu.Lock()
	f.inFlight--
	f.timings = append(f.timings, conversionTiming{start: start, settled: time.Now()})
	f.mu.Unlock()
	f.log.add("convert-end:" + text)

	if err != nil {
		return nil, err
	}
	if f.empty[text] {
		return []byte{}, nil
	}
	return []byte("audio:" + text), nil
}

func (f *fakeSynth) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxIn
}

func (f *fakeSynth) conversionTimings() []conversionTiming {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversionTiming(nil), f.timings...)
}

// fakeRenderer "plays" audio for a fixed duration, or until release says so
type fakeRenderer struct {
	log      *eventLog
	duration time.Duration
	block    map[string]chan struct{}
	fail     map[string]bool

	mu          sync.Mutex
	expressions []Expression
}

func newFakeRenderer(log *eventLog) *fakeRenderer {
	return &fakeRenderer{
		log:   log,
		block: map[string]chan struct{}{},
		fail:  map[string]bool{},
	}
}

func (r *fakeRenderer) Render(ctx context.Context, audio []byte, expression Expression) error {
	text := string(audio[len("audio:"):])
	r.mu.Lock()
	r.expressions = append(r.expressions, expression)
	r.mu.Unlock()

	r.log.add("render-start:" + text)
	defer r.log.add("render-end:" + text)

	if ch, ok := r.block[text]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.duration > 0 {
		select {
		case <-time.After(r.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.fail[text] {
		return errors.New("viewer went away")
	}
	return nil
}

// hooksFor records lifecycle events and signals completion on done
func hooksFor(log *eventLog, text string, done chan<- string) Hooks {
	return Hooks{
		OnStart: func() { log.add("on_start:" + text) },
		OnComplete: func() {
			log.add("on_complete:" + text)
			if done != nil {
				done <- text
			}
		},
	}
}

func waitForCompletions(t *testing.T, done <-chan string, n int, timeout time.Duration) []string {
	t.Helper()
	var order []string
	deadline := time.After(timeout)
	for len(order) < n {
		select {
		case text := <-done:
			order = append(order, text)
		case <-deadline:
			t.Fatalf("timed out after %d of %d completions: %v", len(order), n, order)
		}
	}
	return order
}
