// Package progress defines the ordered event stream an extraction run
// reports to its caller.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Kind names a progress milestone.
type Kind string

const (
	KindStart       Kind = "start"
	KindProgress    Kind = "progress"
	KindBatch       Kind = "batch"
	KindMessage     Kind = "message"
	KindTaskCreated Kind = "task_created"
	KindComplete    Kind = "complete"
	KindError       Kind = "error"
)

// Event is one milestone. Which fields are set depends on Kind.
type Event struct {
	Kind      Kind   `json:"type"`
	AccountID string `json:"accountId,omitempty"`

	Message string `json:"message,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`

	BatchIndex   int `json:"batchIndex,omitempty"`
	TotalBatches int `json:"totalBatches,omitempty"`

	MessageID string `json:"messageId,omitempty"`
	Extracted int    `json:"extracted,omitempty"`

	CreatedCount int    `json:"createdCount,omitempty"`
	TaskTitle    string `json:"taskTitle,omitempty"`
	Created      int    `json:"created,omitempty"`

	Error string `json:"error,omitempty"`
}

// MarshalJSON writes the fields each kind carries, zero values included,
// so consumers never see a counter go missing.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": e.Kind}
	if e.AccountID != "" {
		out["accountId"] = e.AccountID
	}

	switch e.Kind {
	case KindStart:
		out["message"] = e.Message
	case KindProgress:
		out["message"], out["current"], out["total"] = e.Message, e.Current, e.Total
	case KindBatch:
		out["message"], out["current"], out["total"] = e.Message, e.Current, e.Total
		out["batchIndex"], out["totalBatches"] = e.BatchIndex, e.TotalBatches
	case KindMessage:
		out["message"], out["current"], out["total"] = e.Message, e.Current, e.Total
		out["messageId"], out["extracted"] = e.MessageID, e.Extracted
	case KindTaskCreated:
		out["message"], out["createdCount"], out["taskTitle"] = e.Message, e.CreatedCount, e.TaskTitle
	case KindComplete:
		out["message"], out["extracted"], out["created"] = e.Message, e.Extracted, e.Created
	case KindError:
		out["error"] = e.Error
	default:
		type plain Event
		return json.Marshal(plain(e))
	}
	return json.Marshal(out)
}

// Sink receives events in the order a run produces them. Emit must not
// block for long; it has no way to push back on the run.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans events out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// WithAccount stamps every event with accountID before forwarding.
func WithAccount(accountID string, next Sink) Sink {
	return SinkFunc(func(e Event) {
		e.AccountID = accountID
		next.Emit(e)
	})
}

// Log writes events to a structured logger.
func Log(logger *slog.Logger) Sink {
	return SinkFunc(func(e Event) {
		if e.Kind == KindError {
			logger.Error("extraction failed", "account", e.AccountID, "error", e.Error)
			return
		}
		logger.Debug(e.Message, "event", string(e.Kind), "account", e.AccountID,
			"current", e.Current, "total", e.Total)
	})
}

// Recorder collects events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// SSE encodes e as a server-sent event frame.
func SSE(e Event) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		data = []byte(`{}`)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Kind, data))
}
