package progress

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSSEKeepsZeroCounters(t *testing.T) {
	tests := []struct {
		event Event
		want  []string
	}{
		{
			Event{Kind: KindComplete, Message: "done"},
			[]string{`"extracted":0`, `"created":0`},
		},
		{
			Event{Kind: KindMessage, Message: "Processed", Current: 1, Total: 3, MessageID: "m1"},
			[]string{`"extracted":0`, `"messageId":"m1"`},
		},
		{
			Event{Kind: KindProgress, Message: "Found 3 new messages", Total: 3},
			[]string{`"current":0`, `"total":3`},
		},
		{
			Event{Kind: KindBatch, Total: 3, BatchIndex: 1, TotalBatches: 1},
			[]string{`"current":0`, `"batchIndex":1`},
		},
	}

	for _, tt := range tests {
		frame := string(SSE(tt.event))
		if !strings.HasPrefix(frame, "event: "+string(tt.event.Kind)+"\ndata: ") {
			t.Fatalf("unexpected frame header: %q", frame)
		}
		for _, field := range tt.want {
			if !strings.Contains(frame, field) {
				t.Fatalf("%s: expected %s in %q", tt.event.Kind, field, frame)
			}
		}
	}
}

func TestEventJSONOnlyCarriesKindFields(t *testing.T) {
	data, err := json.Marshal(Event{Kind: KindError, AccountID: "a1", Error: "boom", Current: 4})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "error" || got["error"] != "boom" || got["accountId"] != "a1" {
		t.Fatalf("unexpected error event: %v", got)
	}
	if _, ok := got["current"]; ok {
		t.Fatalf("error events should not carry counters: %v", got)
	}
}
