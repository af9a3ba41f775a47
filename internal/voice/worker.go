package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jkaninda/sauti/internal/tts"
)

const defaultBatchSize = 3

// synthJob is one queued sentence awaiting synthesis.
type synthJob struct {
	sentence string
	index    int
}

// synthWorker drains the synthesis queue in the background.
//
// State machine {idle, draining} guarded by the mutex: the first enqueue on
// an idle worker spawns the drain loop; the loop exits when the queue
// empties; a later enqueue spawns it again. await blocks until the worker
// goes idle, which is how the pipeline joins before emitting done.
//
// The queue is drained in batches: every job in a batch is issued
// concurrently, the whole batch is joined, and audio is emitted in queue
// order — not completion order — so audio order always equals sentence
// index order. A failed job is logged and skipped; its siblings and the
// rest of the pipeline continue.
type synthWorker struct {
	synth     tts.Synthesizer
	emit      func(Event)
	logger    *slog.Logger
	batchSize int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []synthJob
	draining  bool
	cancelled bool
}

func newSynthWorker(synth tts.Synthesizer, emit func(Event), batchSize int, logger *slog.Logger) *synthWorker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	w := &synthWorker{
		synth:     synth,
		emit:      emit,
		logger:    logger,
		batchSize: batchSize,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// enqueue adds a job and lazily starts the drain loop if the worker is idle.
func (w *synthWorker) enqueue(ctx context.Context, sentence string, index int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return
	}
	w.queue = append(w.queue, synthJob{sentence: sentence, index: index})
	if !w.draining {
		w.draining = true
		go w.drain(ctx)
	}
}

func (w *synthWorker) drain(ctx context.Context) {
	for {
		w.mu.Lock()
		if w.cancelled || len(w.queue) == 0 {
			w.draining = false
			w.cond.Broadcast()
			w.mu.Unlock()
			return
		}
		n := len(w.queue)
		if n > w.batchSize {
			n = w.batchSize
		}
		batch := make([]synthJob, n)
		copy(batch, w.queue[:n])
		w.queue = w.queue[n:]
		w.mu.Unlock()

		results := make([][]byte, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i, job := range batch {
			wg.Add(1)
			go func(i int, job synthJob) {
				defer wg.Done()
				results[i], errs[i] = w.synth.Synthesize(ctx, job.sentence)
			}(i, job)
		}
		wg.Wait()

		w.mu.Lock()
		cancelled := w.cancelled
		w.mu.Unlock()
		if cancelled {
			continue
		}

		for i, job := range batch {
			if errs[i] != nil {
				w.logger.Warn("sentence synthesis failed",
					slog.Int("index", job.index),
					slog.String("error", errs[i].Error()),
				)
				continue
			}
			w.emit(Event{Type: EventAudio, Index: job.index, Audio: results[i]})
		}
	}
}

// await blocks until the queue is fully drained and the worker is idle.
func (w *synthWorker) await() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.draining {
		w.cond.Wait()
	}
}

// cancel discards all queued jobs and stops further emission. Idempotent.
func (w *synthWorker) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
	w.queue = nil
	w.cond.Broadcast()
}
