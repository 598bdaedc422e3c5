package types

import (
	"fmt"
	"strings"
	"time"
)

// Job status constants
const (
	StatusCapturing  = "CAPTURING"
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Source type constants
const (
	SourceUpload  = "upload"
	SourceGDrive  = "gdrive"
	SourceYouTube = "youtube"
	SourceCLI     = "cli"
)

// Window is a contiguous span [Start, End) of the decoded audio.
type Window struct {
	Index int
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End - w.Start
}

func (w Window) String() string {
	return fmt.Sprintf("window %d [%s-%s)", w.Index, w.Start, w.End)
}

// Segment represents a timestamped segment of transcription.
// Start and End are seconds.
type Segment struct {
	ID       int            `json:"id"`
	Start    float64        `json:"start"`
	End      float64        `json:"end"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WindowResult is the engine output for one window.
type WindowResult struct {
	Index    int           `json:"index"`
	Offset   time.Duration `json:"offset"`
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Segments []Segment     `json:"segments"`
}

// ResultLog is the ordered accumulation of window results for one run.
// Windows[i].Index == i.
type ResultLog struct {
	Windows []WindowResult
}

// Len returns the number of accumulated windows.
func (l *ResultLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Windows)
}

// Append adds the next window result. Results must arrive in index order.
func (l *ResultLog) Append(r WindowResult) error {
	if r.Index != len(l.Windows) {
		return fmt.Errorf("window %d appended out of order (expected %d)", r.Index, len(l.Windows))
	}
	l.Windows = append(l.Windows, r)
	return nil
}

// Snapshot returns a deep copy safe to hand to another goroutine.
func (l *ResultLog) Snapshot() *ResultLog {
	cp := &ResultLog{Windows: make([]WindowResult, len(l.Windows))}
	for i, w := range l.Windows {
		w.Segments = append([]Segment(nil), w.Segments...)
		cp.Windows[i] = w
	}
	return cp
}

// Segments returns every segment of the log in window order.
func (l *ResultLog) Segments() []Segment {
	var out []Segment
	for _, w := range l.Windows {
		out = append(out, w.Segments...)
	}
	return out
}

// Text joins the text of every window.
func (l *ResultLog) Text() string {
	var parts []string
	for _, w := range l.Windows {
		for _, s := range w.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// Duration returns the end of the last segment.
func (l *ResultLog) Duration() float64 {
	for i := len(l.Windows) - 1; i >= 0; i-- {
		if n := len(l.Windows[i].Segments); n > 0 {
			return l.Windows[i].Segments[n-1].End
		}
	}
	return 0
}

// Event kinds pushed to an output sink
const (
	EventSegment    = "segment"
	EventWindowDone = "window_done"
	EventDone       = "done"
	EventFailed     = "failed"
)

// Event is what a pipeline pushes to its output sink.
type Event struct {
	Type         string   `json:"type"`
	Window       int      `json:"window"`
	SegmentIndex int      `json:"segment_index,omitempty"`
	Segment      *Segment `json:"segment,omitempty"`
	Windows      int      `json:"windows,omitempty"`
	Error        string   `json:"error,omitempty"`
}
