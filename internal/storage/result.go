package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

var (
	// ErrEmptyResult is returned when saving a log with no windows
	ErrEmptyResult = errors.New("no transcription results to save")

	// ErrPersistence is matched by every PersistError
	ErrPersistence = errors.New("persistence failed")
)

// PersistError reports an I/O or format error on a result file
type PersistError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersistence }

// ResultStore reads and writes result logs as JSON documents mapping the
// window index to its segments:
//
//	{
//	  "0": [{"id": 0, "start": 0, "end": 4.2, "text": "..."}],
//	  "1": [...]
//	}
type ResultStore struct{}

// NewResultStore creates a result store
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// Encode renders the log with window keys in numeric order
func (rs *ResultStore) Encode(log *types.ResultLog) ([]byte, error) {
	if log.Len() == 0 {
		return nil, ErrEmptyResult
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, w := range log.Windows {
		segments := w.Segments
		if segments == nil {
			segments = []types.Segment{}
		}
		data, err := json.MarshalIndent(segments, "  ", "  ")
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "  %q: %s", strconv.Itoa(w.Index), data)
		if i < len(log.Windows)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// Decode parses a document written by Encode (or edited by hand)
func (rs *ResultStore) Decode(data []byte) (*types.ResultLog, error) {
	var raw map[string][]types.Segment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	windows := make([]types.WindowResult, 0, len(raw))
	seen := make(map[int]string, len(raw))
	for key, segments := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid window index %q", key)
		}
		if prev, dup := seen[idx]; dup {
			return nil, fmt.Errorf("window index %d appears twice (%q and %q)", idx, prev, key)
		}
		seen[idx] = key
		if segments == nil {
			segments = []types.Segment{}
		}
		windows = append(windows, types.WindowResult{Index: idx, Segments: segments})
	}
	slices.SortFunc(windows, func(a, b types.WindowResult) int { return a.Index - b.Index })

	return &types.ResultLog{Windows: windows}, nil
}

// Save writes the log to path, replacing any existing file atomically
func (rs *ResultStore) Save(log *types.ResultLog, path string) error {
	data, err := rs.Encode(log)
	if err != nil {
		if errors.Is(err, ErrEmptyResult) {
			return err
		}
		return &PersistError{Op: "encode", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistError{Op: "save", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &PersistError{Op: "save", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistError{Op: "save", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistError{Op: "save", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &PersistError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Load reads a log saved by Save
func (rs *ResultStore) Load(path string) (*types.ResultLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistError{Op: "load", Path: path, Err: err}
	}

	log, err := rs.Decode(data)
	if err != nil {
		return nil, &PersistError{Op: "decode", Path: path, Err: err}
	}
	return log, nil
}
