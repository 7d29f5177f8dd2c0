// Package trace writes the append-only JSONL audit trail of policy runs.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType enumerates run trace event types.
type EventType string

const (
	EventRunStart            EventType = "run_start"
	EventVariablesResolved   EventType = "variables_resolved"
	EventConditionsEvaluated EventType = "conditions_evaluated"
	EventStepComplete        EventType = "step_complete"
	EventRollback            EventType = "rollback"
	EventCommit              EventType = "commit"
	EventRunComplete         EventType = "run_complete"
)

// StepStatus is the execution status of a step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Writer writes trace events for one run.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	runID string
	enc   *json.Encoder
	now   func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:     w,
		runID: runID,
		enc:   json.NewEncoder(w),
		now:   time.Now,
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return NewWriter(f, runID), nil
}

// RunPath is the trace file for runID under dir.
func RunPath(dir, runID string) string {
	return filepath.Join(dir, runID+".jsonl")
}

// RunID returns the run this writer records.
func (tw *Writer) RunID() string { return tw.runID }

// Close closes the underlying writer when it is closable.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Emit writes a single trace event. A nil writer discards the event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	}
	return tw.enc.Encode(evt)
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(stepID, action string, status StepStatus, message string, duration time.Duration) error {
	return tw.Emit(EventStepComplete, map[string]any{
		"step_id":  stepID,
		"action":   action,
		"status":   string(status),
		"message":  message,
		"duration": duration.String(),
	})
}

// EmitRollback emits one rollback event per restored path.
func (tw *Writer) EmitRollback(path string, deleted bool, err error) error {
	data := map[string]any{"path": path, "deleted": deleted}
	if err != nil {
		data["error"] = err.Error()
	}
	return tw.Emit(EventRollback, data)
}

// ReadEvents decodes a JSONL trace stream.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(sc.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("decode trace event %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	return events, sc.Err()
}
