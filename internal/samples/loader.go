package samples

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cbegin/seqstudio-go/internal/track"
)

// Gate is told when loading starts and finishes. The store implements it so
// the transport can refuse to play while buffers are loading.
type Gate interface {
	SetSampleLoading(loading bool)
}

// LoadError reports a single instrument that could not be loaded.
type LoadError struct {
	Instrument string
	Path       string
	Cause      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load instrument %q from %s: %v", e.Instrument, e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

type Options struct {
	// Dir resolves relative sample paths.
	Dir string
	// SampleRate is the engine rate buffers are converted to.
	SampleRate int
	// MaxConcurrent bounds parallel decodes. Zero means 4.
	MaxConcurrent int
	Decoders      map[string]DecodeFunc
	Logger        *slog.Logger
	// ReadFile defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Loader decodes sampler instruments into a Bank in the background.
type Loader struct {
	bank *Bank
	gate Gate
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	pending int
}

func NewLoader(bank *Bank, gate Gate, opts Options) *Loader {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Decoders == nil {
		opts.Decoders = DefaultDecoders()
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Loader{bank: bank, gate: gate, opts: opts, log: log}
}

func (l *Loader) Bank() *Bank { return l.bank }

// Loading reports whether any Load call is still running.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending > 0
}

// begin and end write the gate while holding mu so the last write always
// matches pending, even when loads overlap.
func (l *Loader) begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending++
	if l.gate != nil {
		l.gate.SetSampleLoading(true)
	}
}

func (l *Loader) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending--
	if l.gate != nil {
		l.gate.SetSampleLoading(l.pending > 0)
	}
}

// Load decodes every sampler instrument asynchronously. The gate is raised
// before Load returns and lowered before the result is delivered, whatever
// happened while loading. The channel receives nil or the joined
// per-instrument errors and is then closed.
//
// A failed instrument keeps no buffer; its notes are silent until a later
// Load succeeds.
func (l *Loader) Load(ctx context.Context, instruments []track.Instrument) <-chan error {
	done := make(chan error, 1)
	l.begin()
	go func() {
		var err error
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sample loader panic: %v", r)
			}
			l.end()
			done <- err
		}()
		err = l.loadAll(ctx, instruments)
	}()
	return done
}

func (l *Loader) loadAll(ctx context.Context, instruments []track.Instrument) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(l.opts.MaxConcurrent)
	for _, in := range instruments {
		if in.Kind != track.Sampler {
			continue
		}
		in := in
		l.bank.markLoading(in.ID)
		g.Go(func() error {
			if err := l.loadOne(ctx, in); err != nil {
				l.bank.fail(in.ID, err)
				l.log.Warn("sample load failed", "instrument", in.ID, "path", in.Path, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (l *Loader) loadOne(ctx context.Context, in track.Instrument) (err error) {
	path := in.Path
	if path != "" && !filepath.IsAbs(path) && l.opts.Dir != "" {
		path = filepath.Join(l.opts.Dir, path)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{Instrument: in.ID, Path: path, Cause: fmt.Errorf("decoder panic: %v", r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return &LoadError{Instrument: in.ID, Path: path, Cause: err}
	}
	if path == "" {
		return &LoadError{Instrument: in.ID, Path: path, Cause: errors.New("no sample path")}
	}
	dec, err := decoderFor(l.opts.Decoders, path)
	if err != nil {
		return &LoadError{Instrument: in.ID, Path: path, Cause: err}
	}
	data, err := l.opts.ReadFile(path)
	if err != nil {
		return &LoadError{Instrument: in.ID, Path: path, Cause: err}
	}
	buf, err := dec(data)
	if err != nil {
		return &LoadError{Instrument: in.ID, Path: path, Cause: err}
	}
	if l.opts.SampleRate > 0 {
		buf = buf.Resample(l.opts.SampleRate)
	}
	l.bank.Put(in.ID, buf)
	l.log.Debug("sample loaded", "instrument", in.ID, "path", path, "frames", buf.Frames())
	return nil
}
