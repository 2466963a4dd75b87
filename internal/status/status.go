package status

// The status file is the supervisor's only piece of published state:
// one JSON document describing the current (or last) bounded run,
// rewritten atomically so the health probe and the /status endpoint
// never observe a torn write.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/dropsentry/dropsentry/internal/lifecycle"
)

// Run states as published in the status file.
const (
	StateBootstrapping = "bootstrapping"
	StateRunning       = "running"
	StateEnded         = "ended"
)

// RunStatus is the published view of one supervisor invocation.
type RunStatus struct {
	RunID           string          `json:"run_id"`
	State           string          `json:"state"`
	PID             int             `json:"pid,omitempty"`
	Display         string          `json:"display,omitempty"`
	Command         string          `json:"command,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	DeadlineSeconds int             `json:"deadline_seconds"`
	EndsAt          time.Time       `json:"ends_at"`
	Cause           lifecycle.Cause `json:"cause,omitempty"`
	ExitCode        *int            `json:"exit_code,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// File reads and writes the status document at a fixed path.
type File struct {
	path string
}

// NewFile returns a status file handle, creating the parent directory.
// If the configured directory cannot be created, it falls back to the
// system temp directory so an unwritable /var/lib never blocks a run.
func NewFile(path string) *File {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		path = filepath.Join(os.TempDir(), filepath.Base(path))
	}
	return &File{path: path}
}

// Path returns the resolved status file location.
func (f *File) Path() string {
	return f.path
}

// Write publishes the given status atomically.
func (f *File) Write(rs *RunStatus) error {
	rs.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing status file %s: %w", f.path, err)
	}
	return nil
}

// ErrNoStatus is returned when no status has been published yet.
var ErrNoStatus = errors.New("no status file")

// Read loads the last published status.
func (f *File) Read() (*RunStatus, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoStatus
		}
		return nil, fmt.Errorf("reading status file %s: %w", f.path, err)
	}

	var rs RunStatus
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing status file %s: %w", f.path, err)
	}
	return &rs, nil
}
