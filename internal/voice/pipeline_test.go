package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/sauti/internal/storage"
)

// fakeSource replays deltas, then either ends or blocks until closed.
type fakeSource struct {
	mu     sync.Mutex
	deltas []string
	i      int
	block  bool
	closed chan struct{}
	once   sync.Once
}

func newFakeSource(deltas []string, block bool) *fakeSource {
	return &fakeSource{deltas: deltas, block: block, closed: make(chan struct{})}
}

func (f *fakeSource) Recv() (string, error) {
	f.mu.Lock()
	if f.i < len(f.deltas) {
		d := f.deltas[f.i]
		f.i++
		f.mu.Unlock()
		return d, nil
	}
	f.mu.Unlock()
	if f.block {
		<-f.closed
		return "", errors.New("stream aborted")
	}
	return "", io.EOF
}

func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fakeSynth records synthesized sentences; optional per-sentence failures
// and delays exercise batch join behavior.
type fakeSynth struct {
	mu       sync.Mutex
	calls    []string
	failFor  map[string]bool
	delayFor map[string]time.Duration
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fail := f.failFor[text]
	delay := f.delayFor[text]
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, errors.New("synthesis backend error")
	}
	return []byte("audio:" + text), nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCredits struct {
	mu      sync.Mutex
	balance float64
	debits  int
	usages  int
	debitEr error
}

func (f *fakeCredits) GetCredits(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeCredits) DebitCredits(_ context.Context, _ string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debitEr != nil {
		return f.debitEr
	}
	if f.balance < amount {
		return storage.ErrInsufficientCredits
	}
	f.balance -= amount
	f.debits++
	return nil
}

func (f *fakeCredits) RecordUsage(_ context.Context, _, _ string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usages++
	return nil
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) add(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func charDeltas(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func TestSession_TwoSentenceScenario(t *testing.T) {
	const input = "Hello. How are you today, friend?"
	synth := &fakeSynth{}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("alice", newFakeSource(charDeltas(input), false), false, sink.add)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	tokens := sink.byType(EventToken)
	if len(tokens) != len(input) {
		t.Errorf("token events = %d, want %d", len(tokens), len(input))
	}

	texts := sink.byType(EventText)
	if len(texts) != 2 {
		t.Fatalf("text events = %d, want 2", len(texts))
	}
	if texts[0].Index != 0 || texts[1].Index != 1 {
		t.Errorf("text indices = %d,%d, want 0,1", texts[0].Index, texts[1].Index)
	}

	audio := sink.byType(EventAudio)
	if len(audio) != 2 {
		t.Fatalf("audio events = %d, want 2", len(audio))
	}
	if audio[0].Index != 0 || audio[1].Index != 1 {
		t.Errorf("audio order = %d,%d, want 0,1", audio[0].Index, audio[1].Index)
	}
	if synth.callCount() != 2 {
		t.Errorf("synthesis jobs = %d, want 2", synth.callCount())
	}

	dones := sink.byType(EventDone)
	if len(dones) != 1 {
		t.Fatalf("done events = %d, want 1", len(dones))
	}
	if dones[0].Response != input {
		t.Errorf("response = %q, want %q", dones[0].Response, input)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != EventDone {
		t.Errorf("last event = %s, want done", last.Type)
	}

	if credits.debits != 1 || credits.usages != 1 {
		t.Errorf("debits=%d usages=%d, want exactly 1 each", credits.debits, credits.usages)
	}
	if dones[0].CreditsUsed != p.CreditCost() {
		t.Errorf("credits used = %v", dones[0].CreditsUsed)
	}
}

func TestSession_AudioIndicesContiguousAndOrdered(t *testing.T) {
	const input = "One full sentence goes here. Another complete sentence follows it. " +
		"A third sentence appears now. The fourth one wraps it up. And a fifth for good measure."
	synth := &fakeSynth{delayFor: map[string]time.Duration{}}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("bob", newFakeSource(charDeltas(input), false), false, sink.add)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	texts := sink.byType(EventText)
	audio := sink.byType(EventAudio)
	if len(audio) != len(texts) {
		t.Fatalf("audio = %d events, text = %d", len(audio), len(texts))
	}
	for i, e := range texts {
		if e.Index != i {
			t.Errorf("text %d has index %d", i, e.Index)
		}
	}
	for i, e := range audio {
		if e.Index != i {
			t.Errorf("audio %d has index %d", i, e.Index)
		}
		if !strings.HasPrefix(string(e.Audio), "audio:") {
			t.Errorf("audio %d payload = %q", i, e.Audio)
		}
	}
}

func TestSession_BatchEmitsInQueueOrder(t *testing.T) {
	// Three sentences land in one batch; the first is slowest. Emission must
	// still follow queue order, not completion order.
	const input = "The first sentence is slowest. The second one is faster. The third is fastest of all. "
	synth := &fakeSynth{delayFor: map[string]time.Duration{
		"The first sentence is slowest.": 60 * time.Millisecond,
		"The second one is faster.":      20 * time.Millisecond,
		"The third is fastest of all.":   time.Millisecond,
	}}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("carol", newFakeSource([]string{input}, false), false, sink.add)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	audio := sink.byType(EventAudio)
	if len(audio) != 3 {
		t.Fatalf("audio events = %d, want 3", len(audio))
	}
	for i, e := range audio {
		if e.Index != i {
			t.Errorf("audio position %d has index %d, want %d", i, e.Index, i)
		}
	}
}

func TestSession_SynthesisFailureIsIsolated(t *testing.T) {
	const input = "The first sentence works fine. The second sentence will fail. The third sentence works too. "
	synth := &fakeSynth{failFor: map[string]bool{
		"The second sentence will fail.": true,
	}}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("dave", newFakeSource([]string{input}, false), false, sink.add)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("run should survive a per-sentence failure: %v", err)
	}

	audio := sink.byType(EventAudio)
	if len(audio) != 2 {
		t.Fatalf("audio events = %d, want 2 (failed job skipped)", len(audio))
	}
	if audio[0].Index != 0 || audio[1].Index != 2 {
		t.Errorf("audio indices = %d,%d, want 0,2", audio[0].Index, audio[1].Index)
	}
	if len(sink.byType(EventError)) != 0 {
		t.Error("per-sentence failure must not emit a pipeline error")
	}
	if len(sink.byType(EventDone)) != 1 {
		t.Error("pipeline should still complete")
	}
}

func TestSession_NativeTTSSkipsSynthesis(t *testing.T) {
	const input = "A complete sentence for the client. "
	synth := &fakeSynth{}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("eve", newFakeSource([]string{input}, false), true, sink.add)
	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if synth.callCount() != 0 {
		t.Errorf("synthesis jobs = %d, want 0 with native TTS", synth.callCount())
	}
	if len(sink.byType(EventAudio)) != 0 {
		t.Error("no audio events expected with native TTS")
	}
	if len(sink.byType(EventText)) == 0 {
		t.Error("text events still expected with native TTS")
	}
}

func TestSession_CancelIsIdempotentAndSuppresses(t *testing.T) {
	source := newFakeSource([]string{"Hello there my good friend. "}, true)
	synth := &fakeSynth{}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("frank", source, false, sink.add)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	// Let the session consume the delta, then cancel mid-stream. Twice.
	time.Sleep(50 * time.Millisecond)
	sess.Cancel()
	sess.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled run should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if len(sink.byType(EventDone)) != 0 {
		t.Error("cancelled run must not emit done")
	}
	if len(sink.byType(EventError)) != 0 {
		t.Error("cancelled run must not emit error")
	}
	if credits.debits != 0 {
		t.Errorf("cancelled run debited %d times, want 0", credits.debits)
	}
}

func TestSession_StreamFailureEmitsSingleError(t *testing.T) {
	source := newFakeSource([]string{"partial "}, true)
	synth := &fakeSynth{}
	credits := &fakeCredits{balance: 10}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("grace", source, false, sink.add)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	source.Close() // transport failure, not a cancel

	err := <-done
	if err == nil {
		t.Fatal("expected stream failure error")
	}
	if n := len(sink.byType(EventError)); n != 1 {
		t.Errorf("error events = %d, want exactly 1", n)
	}
	if credits.debits != 0 {
		t.Errorf("failed run debited %d times, want 0", credits.debits)
	}
}

func TestSession_DebitFailureEmitsError(t *testing.T) {
	synth := &fakeSynth{}
	credits := &fakeCredits{balance: 0}
	sink := &eventSink{}

	p := New(synth, credits, testLogger())
	sess := p.NewSession("heidi", newFakeSource([]string{"A complete sentence right here. "}, false), false, sink.add)

	err := sess.Run(context.Background())
	if !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(sink.byType(EventError)) != 1 {
		t.Error("expected a terminal error event")
	}
	if len(sink.byType(EventDone)) != 0 {
		t.Error("done must not follow a failed debit")
	}
}
