package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestWritePrometheus(t *testing.T) {
	RunTotal.WithLabelValues("handover", "completed").Inc()
	TicketTotal.WithLabelValues("resolved").Add(2)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, name := range []string{"malo_run_total", "malo_ticket_total"} {
		if !strings.Contains(out, name) {
			t.Errorf("output missing %s", name)
		}
	}
}
