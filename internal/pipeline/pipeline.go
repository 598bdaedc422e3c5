package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/chunker"
	"github.com/codebuildervaibhav/longform-transcriber/internal/logger"
	"github.com/codebuildervaibhav/longform-transcriber/internal/media"
	"github.com/codebuildervaibhav/longform-transcriber/internal/transcription"
	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// ErrTranscriptionFailed is matched by every WindowError
var ErrTranscriptionFailed = errors.New("transcription failed")

// WindowError reports the window a run stopped at
type WindowError struct {
	Index    int
	Start    time.Duration
	End      time.Duration
	Attempts int
	Err      error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("transcription of window %d [%s-%s) failed after %d attempt(s): %v",
		e.Index, e.Start, e.End, e.Attempts, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }

func (e *WindowError) Is(target error) bool { return target == ErrTranscriptionFailed }

// Options tunes a pipeline
type Options struct {
	AudioFormat  string        // decoded artifact format, e.g. "wav"
	Task         string        // engine task, "transcribe" unless translating
	Retries      int           // extra attempts per window, 0 aborts on first failure
	RetryBackoff time.Duration // base backoff, grows quadratically
}

// Pipeline decodes an input, cuts it into windows and transcribes them in
// order. One pipeline runs one input at a time.
type Pipeline struct {
	decoder *media.Decoder
	chunker *chunker.Chunker
	engine  transcription.Engine
	opts    Options
	log     *logger.Logger

	runMu   sync.Mutex // serializes runs, the engine is not shareable
	mu      sync.Mutex // guards current
	current *types.ResultLog
}

// New creates a pipeline
func New(decoder *media.Decoder, ch *chunker.Chunker, engine transcription.Engine, opts Options, log *logger.Logger) *Pipeline {
	if opts.AudioFormat == "" {
		opts.AudioFormat = "wav"
	}
	if opts.Task == "" {
		opts.Task = "transcribe"
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Second
	}
	return &Pipeline{
		decoder: decoder,
		chunker: ch,
		engine:  engine,
		opts:    opts,
		log:     log.Named("pipeline"),
	}
}

// Run transcribes inputPath window by window. Segments are pushed to out (which
// may be nil) as soon as they are produced, with timestamps re-based to the
// whole file. The returned log is never nil: on failure it holds every window
// completed before the error. Cancelling ctx stops the run before the next
// window; a window in progress is always finished.
func (p *Pipeline) Run(ctx context.Context, inputPath, language string, out Sink) (*types.ResultLog, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	result := &types.ResultLog{}
	p.setCurrent(result)

	if err := p.run(ctx, inputPath, language, out, result); err != nil {
		publish(out, types.Event{Type: types.EventFailed, Window: result.Len(), Windows: result.Len(), Error: err.Error()})
		return result, err
	}
	publish(out, types.Event{Type: types.EventDone, Windows: result.Len()})
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, inputPath, language string, out Sink, result *types.ResultLog) error {
	handle, err := p.decoder.Open(ctx, inputPath, p.opts.AudioFormat)
	if err != nil {
		p.log.Errorf("Decoding %s failed: %v", inputPath, err)
		return err
	}

	total := p.chunker.Count(handle)
	p.log.Infof("Transcribing %s: %s in %d window(s) of %s", inputPath, handle.Duration, total, p.chunker.Size())

	for w := range p.chunker.Windows(handle) {
		if err := ctx.Err(); err != nil {
			p.log.Warnf("Run cancelled before %s", w)
			return fmt.Errorf("run cancelled before window %d: %w", w.Index, err)
		}

		p.log.Infof("Transcribing %s (%d/%d)", w, w.Index+1, total)
		start := time.Now()

		wr, err := p.transcribeWindow(ctx, handle, w, language, out)
		if err != nil {
			p.log.Errorf("%v", err)
			return err
		}

		p.mu.Lock()
		err = result.Append(*wr)
		p.mu.Unlock()
		if err != nil {
			return err
		}

		publish(out, types.Event{Type: types.EventWindowDone, Window: w.Index, Windows: total})
		p.log.Infof("Window %d done: %d segments in %s", w.Index, len(wr.Segments), time.Since(start).Round(time.Millisecond))
	}

	p.log.Infof("Transcribing done! %d window(s)", result.Len())
	return nil
}

// transcribeWindow runs the engine on one window, retrying if configured.
// Segments already delivered by a failed attempt are not delivered again.
func (p *Pipeline) transcribeWindow(ctx context.Context, h *media.Handle, w types.Window, language string, out Sink) (*types.WindowResult, error) {
	// A window is never interrupted half way
	winCtx := context.WithoutCancel(ctx)
	offset := w.Start.Seconds()
	delivered := 0

	forward := func(i int, seg types.Segment) {
		seg.Start += offset
		seg.End += offset
		publish(out, types.Event{Type: types.EventSegment, Window: w.Index, SegmentIndex: i, Segment: &seg})
	}

	var lastErr error
	attempts := p.opts.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		var result *types.WindowResult
		seen := 0

		err := p.chunker.Materialize(winCtx, h, w, func(path string) error {
			res, err := p.engine.Transcribe(winCtx, transcription.Request{
				AudioPath: path,
				Language:  language,
				Task:      p.opts.Task,
				Verbose:   true,
				OnSegment: func(seg types.Segment) {
					if seen >= delivered {
						forward(seen, seg)
						delivered++
					}
					seen++
				},
			})
			if err != nil {
				return err
			}
			if res == nil {
				return errors.New("engine returned no result")
			}
			result = res
			return nil
		})
		if err == nil {
			// Batch engines never stream; deliver whatever was not seen yet
			for i := delivered; i < len(result.Segments); i++ {
				forward(i, result.Segments[i])
			}
			return p.finalize(result, w), nil
		}

		lastErr = err
		if attempt == attempts {
			break
		}

		backoff := time.Duration(attempt*attempt) * p.opts.RetryBackoff
		p.log.Warnf("%s attempt %d/%d failed: %v (retrying in %s)", w, attempt, attempts, err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &WindowError{Index: w.Index, Start: w.Start, End: w.End, Attempts: attempt, Err: lastErr}
		case <-timer.C:
		}
	}

	return nil, &WindowError{Index: w.Index, Start: w.Start, End: w.End, Attempts: attempts, Err: lastErr}
}

// finalize stamps the window identity and re-bases segment timestamps
func (p *Pipeline) finalize(res *types.WindowResult, w types.Window) *types.WindowResult {
	offset := w.Start.Seconds()
	out := &types.WindowResult{
		Index:    w.Index,
		Offset:   w.Start,
		Text:     res.Text,
		Language: res.Language,
		Segments: make([]types.Segment, len(res.Segments)),
	}
	for i, seg := range res.Segments {
		seg.Start += offset
		seg.End += offset
		out.Segments[i] = seg
	}
	return out
}

// Snapshot returns a copy of the log of the current (or last) run
func (p *Pipeline) Snapshot() *types.ResultLog {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return &types.ResultLog{}
	}
	return p.current.Snapshot()
}

func (p *Pipeline) setCurrent(l *types.ResultLog) {
	p.mu.Lock()
	p.current = l
	p.mu.Unlock()
}

func publish(out Sink, ev types.Event) {
	if out == nil {
		return
	}
	out.Publish(ev)
}
