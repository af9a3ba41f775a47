package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jkaninda/sauti/internal/storage"
	"github.com/jkaninda/sauti/internal/tts"
)

const defaultCreditCost = 1.0

// DeltaSource is a finite, forward-only text-delta sequence.
// Satisfied by *gateway.Stream.
type DeltaSource interface {
	// Recv returns the next delta, io.EOF at end of stream.
	Recv() (string, error)
	// Close aborts the sequence.
	Close() error
}

// Pipeline builds voice sessions. One Pipeline serves all requests; each
// request gets its own Session.
type Pipeline struct {
	synth      tts.Synthesizer
	credits    storage.CreditStore
	logger     *slog.Logger
	creditCost float64
	batchSize  int
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithCreditCost sets the fixed per-request credit cost.
func WithCreditCost(cost float64) Option {
	return func(p *Pipeline) { p.creditCost = cost }
}

// WithBatchSize sets the synthesis batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

// New creates a voice pipeline.
func New(synth tts.Synthesizer, credits storage.CreditStore, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		synth:      synth,
		credits:    credits,
		logger:     logger,
		creditCost: defaultCreditCost,
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreditCost returns the fixed per-request cost, for preflight balance checks.
func (p *Pipeline) CreditCost() float64 { return p.creditCost }

// Session is one voice request in flight. Create with NewSession, drive with
// Run, abort with Cancel.
type Session struct {
	p         *Pipeline
	userID    string
	source    DeltaSource
	nativeTTS bool
	sink      func(Event)

	worker *synthWorker
	seg    segmenter

	emitMu     sync.Mutex
	suppressed bool
	cancelOnce sync.Once
	cancelled  bool
}

// NewSession prepares a session for one voice request. When nativeTTS is
// true the caller synthesizes client-side and no audio events are produced.
// Events are delivered to sink serially.
func (p *Pipeline) NewSession(userID string, source DeltaSource, nativeTTS bool, sink func(Event)) *Session {
	s := &Session{
		p:         p,
		userID:    userID,
		source:    source,
		nativeTTS: nativeTTS,
		sink:      sink,
	}
	s.worker = newSynthWorker(p.synth, s.emit, p.batchSize, p.logger)
	return s
}

// Run drives the session to completion: echo every delta, segment sentences,
// synthesize audio in the background, then — after the source ends, the
// final flush is out, and the worker has drained — debit the fixed credit
// cost, record one usage entry, and emit done. Exactly one debit and usage
// record per completed run; a cancelled run debits nothing.
func (s *Session) Run(ctx context.Context) error {
	index := 0
	var full string

	for {
		delta, err := s.source.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if s.isCancelled() {
				return nil
			}
			s.fail(err)
			return fmt.Errorf("reading delta stream: %w", err)
		}

		s.emit(Event{Type: EventToken, Content: delta})
		full += delta

		for _, sentence := range s.seg.push(delta) {
			s.emitSentence(ctx, sentence, index)
			index++
		}
	}

	for _, sentence := range s.seg.flush() {
		s.emitSentence(ctx, sentence, index)
		index++
	}

	if !s.nativeTTS {
		s.worker.await()
	}

	if s.isCancelled() {
		return nil
	}

	cost := s.p.creditCost
	if err := s.p.credits.DebitCredits(ctx, s.userID, cost); err != nil {
		s.fail(err)
		return fmt.Errorf("debiting credits: %w", err)
	}
	if err := s.p.credits.RecordUsage(ctx, s.userID, "voice", cost); err != nil {
		s.p.logger.Warn("failed to record usage",
			slog.String("user_id", s.userID),
			slog.String("error", err.Error()),
		)
	}

	remaining, err := s.p.credits.GetCredits(ctx, s.userID)
	if err != nil {
		s.p.logger.Warn("failed to read remaining credits",
			slog.String("user_id", s.userID),
			slog.String("error", err.Error()),
		)
	}

	s.emit(Event{
		Type:             EventDone,
		Response:         full,
		CreditsUsed:      cost,
		CreditsRemaining: remaining,
	})
	return nil
}

// Cancel aborts the session: the in-flight stream read is interrupted, all
// queued synthesis jobs are discarded, and no further events are emitted.
// Idempotent; a second call is a no-op.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.emitMu.Lock()
		s.suppressed = true
		s.cancelled = true
		s.emitMu.Unlock()

		s.worker.cancel()
		if err := s.source.Close(); err != nil {
			s.p.logger.Debug("closing delta source", slog.String("error", err.Error()))
		}
	})
}

func (s *Session) emitSentence(ctx context.Context, sentence string, index int) {
	s.emit(Event{Type: EventText, Content: sentence, Index: index})
	if !s.nativeTTS {
		s.worker.enqueue(ctx, sentence, index)
	}
}

// emit delivers one event to the sink unless the session was cancelled.
// Serialized: the sink never sees concurrent calls.
func (s *Session) emit(e Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.suppressed {
		return
	}
	s.sink(e)
}

// fail emits the single terminal error event.
func (s *Session) fail(err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.suppressed {
		return
	}
	s.suppressed = true
	s.sink(Event{Type: EventError, Error: err.Error()})
	s.worker.cancel()
}

func (s *Session) isCancelled() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.cancelled
}
