package monitoring

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testMonitor() (*Monitor, *bytes.Buffer) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewMonitor(log), &buf
}

func TestMonitorAggregatesCounters(t *testing.T) {
	m, buf := testMonitor()

	m.RecordTikaRequest(true, 100*time.Millisecond, "")
	m.RecordTikaRequest(false, 300*time.Millisecond, "timeout")
	m.RecordTikaRequest(false, 200*time.Millisecond, "timeout")
	m.RecordSearchOperation(true, 50*time.Millisecond, "")
	m.LogSummary()

	var tika, search map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("summary line is not JSON: %v", err)
		}
		switch rec["event_type"] {
		case "tika_summary":
			tika = rec
		case "opensearch_summary":
			search = rec
		}
	}
	if tika == nil || search == nil {
		t.Fatalf("missing summary records in output: %s", buf.String())
	}
	if tika["total"].(float64) != 3 || tika["successful"].(float64) != 1 || tika["failed"].(float64) != 2 {
		t.Errorf("tika counters = total %v successful %v failed %v", tika["total"], tika["successful"], tika["failed"])
	}
	if tika["avg_duration_ms"].(float64) != 200 {
		t.Errorf("tika avg_duration_ms = %v, want 200", tika["avg_duration_ms"])
	}
	errs := tika["errors"].(map[string]any)
	if errs["timeout"].(float64) != 2 {
		t.Errorf("timeout error count = %v, want 2", errs["timeout"])
	}
	if search["total"].(float64) != 1 || search["failed"].(float64) != 0 {
		t.Errorf("opensearch counters = total %v failed %v", search["total"], search["failed"])
	}
}

func TestLogTikaErrorFeedsCounters(t *testing.T) {
	m, buf := testMonitor()

	m.LogTikaError("/tmp/g.pdf", "http_503", "service unavailable", time.Second, 42)

	if !strings.Contains(buf.String(), `"event_type":"tika_error"`) {
		t.Errorf("error record not emitted: %s", buf.String())
	}
	if m.tika.Failed != 1 || m.tika.Errors["http_503"] != 1 {
		t.Errorf("failure not recorded: %+v", m.tika)
	}
}

func TestLogSearchOperationFeedsCounters(t *testing.T) {
	m, buf := testMonitor()

	m.LogSearchOperation("index", "gazettes", 10*time.Millisecond, "abc")

	if !strings.Contains(buf.String(), `"event_type":"opensearch_operation"`) {
		t.Errorf("operation record not emitted: %s", buf.String())
	}
	if m.opensearch.Successful != 1 {
		t.Errorf("success not recorded: %+v", m.opensearch)
	}
}
