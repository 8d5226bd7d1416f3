package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "failed"
}

// Result is the outcome of one job. Chunks is nil unless Status is StatusOK.
type Result struct {
	Job    uuid.UUID
	Status Status
	Chunks [][]byte
	Err    error
}

// Bytes concatenates the chunks into one MP3 stream.
func (r Result) Bytes() []byte {
	n := 0
	for _, c := range r.Chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range r.Chunks {
		out = append(out, c...)
	}
	return out
}

type job struct {
	id          uuid.UUID
	left, right []float32
	progress    Progress
	reply       chan Result
}

type WorkerOption func(*Worker)

func WithLogger(log *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// Worker runs encode jobs one at a time on its own goroutine. Jobs share no
// memory with the caller: inputs are copied on Submit and each job gets a
// fresh block encoder. A failed job never stops the worker.
type Worker struct {
	factory Factory
	params  Params
	log     *slog.Logger

	jobs     chan job
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewWorker(factory Factory, params Params, opts ...WorkerOption) *Worker {
	w := &Worker{
		factory: factory,
		params:  params,
		log:     slog.Default(),
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			res := w.process(j)
			j.reply <- res
			close(j.reply)
		}
	}
}

func (w *Worker) process(j job) (res Result) {
	res = Result{Job: j.id, Status: StatusFailed}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Job: j.id, Status: StatusFailed, Err: fmt.Errorf("encoder panic: %v", r)}
		}
		if res.Err != nil {
			w.log.Error("encode job failed", "job", j.id, "error", res.Err)
			return
		}
		w.log.Debug("encode job done", "job", j.id, "samples", len(j.left), "chunks", len(res.Chunks), "elapsed", time.Since(started))
	}()
	enc, err := w.factory(w.params)
	if err != nil {
		res.Err = err
		return res
	}
	chunks, err := Encode(enc, j.left, j.right, j.progress)
	if err != nil {
		res.Err = err
		return res
	}
	return Result{Job: j.id, Status: StatusOK, Chunks: chunks}
}

// Submit queues a copy of left and right for encoding. ctx bounds only the
// wait for the worker to accept the job; an accepted job always runs to
// completion.
func (w *Worker) Submit(ctx context.Context, left, right []float32) (uuid.UUID, <-chan Result, error) {
	return w.submit(ctx, left, right, nil)
}

// SubmitWithProgress is Submit with a progress callback. The callback runs
// on the worker goroutine.
func (w *Worker) SubmitWithProgress(ctx context.Context, left, right []float32, progress Progress) (uuid.UUID, <-chan Result, error) {
	return w.submit(ctx, left, right, progress)
}

func (w *Worker) submit(ctx context.Context, left, right []float32, progress Progress) (uuid.UUID, <-chan Result, error) {
	j := job{
		id:       uuid.New(),
		left:     append([]float32(nil), left...),
		right:    append([]float32(nil), right...),
		progress: progress,
		reply:    make(chan Result, 1),
	}
	select {
	case <-w.quit:
		return uuid.Nil, nil, ErrClosed
	default:
	}
	select {
	case w.jobs <- j:
		return j.id, j.reply, nil
	case <-w.quit:
		return uuid.Nil, nil, ErrClosed
	case <-ctx.Done():
		return uuid.Nil, nil, ctx.Err()
	}
}

// Encode submits a job and waits for its result.
func (w *Worker) Encode(ctx context.Context, left, right []float32, progress Progress) (Result, error) {
	_, reply, err := w.submit(ctx, left, right, progress)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close stops the worker after the job in progress, if any, finishes.
func (w *Worker) Close() error {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
	return nil
}
