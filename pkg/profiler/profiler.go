// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package profiler records timing spans and memory counters of a training pass and exports
// them as a Chrome trace-event JSON file, viewable in chrome://tracing or Perfetto.
//
// A Session is started before the work to profile, spans are recorded with Span, and
// after Stop the collected events are written with Export:
//
//	prof := profiler.New(map[string]any{"model": "alexnet"})
//	for ... {
//		done := prof.Span("train_step", "step")
//		...
//		done()
//	}
//	prof.Stop()
//	if err := prof.Export(path); err != nil { ... }
package profiler

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event is one entry of the Chrome trace-event format.
type Event struct {
	Name     string         `json:"name"`
	Category string         `json:"cat,omitempty"`
	Phase    string         `json:"ph"`
	TS       float64        `json:"ts"`
	Duration float64        `json:"dur,omitempty"`
	PID      int            `json:"pid"`
	TID      int            `json:"tid"`
	Args     map[string]any `json:"args,omitempty"`
}

// Trace is the top-level JSON object written by Export.
type Trace struct {
	TraceEvents     []Event        `json:"traceEvents"`
	DisplayTimeUnit string         `json:"displayTimeUnit"`
	OtherData       map[string]any `json:"otherData,omitempty"`
}

// ExportError is returned when the trace artifact can't be written.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("failed to export trace to %q: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Session collects events between New and Stop. It is safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	runID    string
	start    time.Time
	stopped  bool
	events   []Event
	metadata map[string]any
	peakHeap uint64
}

// New starts a profiling session. The metadata is written to the "otherData" section of the trace,
// along with a random run id.
func New(metadata map[string]any) *Session {
	s := &Session{
		runID:    uuid.NewString(),
		start:    time.Now(),
		metadata: make(map[string]any, len(metadata)+1),
	}
	for k, v := range metadata {
		s.metadata[k] = v
	}
	s.metadata["run_id"] = s.runID
	s.SampleMemory()
	return s
}

// RunID returns the random identifier of this session.
func (s *Session) RunID() string { return s.runID }

func (s *Session) micros(t time.Time) float64 {
	return float64(t.Sub(s.start).Nanoseconds()) / 1e3
}

// Span starts a complete ("X") event and returns the function that ends it.
// On a nil Session the returned function does nothing.
func (s *Session) Span(name, category string) (end func()) {
	if s == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		s.Record(name, category, start, time.Since(start), nil)
	}
}

// Record adds a complete event that started at start and lasted for elapsed.
// Events recorded after Stop are dropped.
func (s *Session) Record(name, category string, start time.Time, elapsed time.Duration, args map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.events = append(s.events, Event{
		Name:     name,
		Category: category,
		Phase:    "X",
		TS:       s.micros(start),
		Duration: float64(elapsed.Nanoseconds()) / 1e3,
		PID:      os.Getpid(),
		TID:      1,
		Args:     args,
	})
}

// SampleMemory adds a counter ("C") event with the current Go heap usage.
func (s *Session) SampleMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.peakHeap = max(s.peakHeap, ms.HeapAlloc)
	s.events = append(s.events, Event{
		Name:  "memory",
		Phase: "C",
		TS:    s.micros(now),
		PID:   os.Getpid(),
		TID:   1,
		Args: map[string]any{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
		},
	})
}

// Stop ends the session: a last memory sample is taken and further events are ignored.
func (s *Session) Stop() {
	s.SampleMemory()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// NumEvents returns the number of events collected so far.
func (s *Session) NumEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Trace returns a snapshot of the collected trace.
func (s *Session) Trace() Trace {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	other := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		other[k] = v
	}
	return Trace{
		TraceEvents:     events,
		DisplayTimeUnit: "ms",
		OtherData:       other,
	}
}

// Export writes the trace as JSON to path, overwriting any previous file.
// Errors are returned as *ExportError.
func (s *Session) Export(path string) error {
	trace := s.Trace()
	data, err := json.Marshal(trace)
	if err != nil {
		return &ExportError{Path: path, Err: errors.Wrap(err, "encoding trace")}
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return &ExportError{Path: path, Err: err}
	}
	klog.V(1).Infof("trace %s: %d events, peak heap %s, written to %s",
		s.runID, len(trace.TraceEvents), humanize.Bytes(s.peakHeap), path)
	return nil
}

// ReadTrace loads a trace previously written by Export.
func ReadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading trace %q", path)
	}
	trace := &Trace{}
	if err = json.Unmarshal(data, trace); err != nil {
		return nil, errors.Wrapf(err, "decoding trace %q", path)
	}
	return trace, nil
}
