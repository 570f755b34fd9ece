// Package monitoring tracks per-run statistics for the two flaky external
// collaborators: the Tika extraction service and the OpenSearch cluster. It
// also provides the event-tagged JSON log records used to diagnose connection
// problems after a run.
package monitoring

import (
	"log/slog"
	"sync"
	"time"
)

// serviceStats accumulates counters for one external service.
type serviceStats struct {
	Total      int64
	Successful int64
	Failed     int64
	Duration   time.Duration
	Errors     map[string]int64
}

func (s *serviceStats) record(success bool, duration time.Duration, errType string) {
	s.Total++
	s.Duration += duration
	if success {
		s.Successful++
		return
	}
	s.Failed++
	if errType != "" {
		if s.Errors == nil {
			s.Errors = map[string]int64{}
		}
		s.Errors[errType]++
	}
}

func (s *serviceStats) attrs() []any {
	avg := time.Duration(0)
	if s.Total > 0 {
		avg = s.Duration / time.Duration(s.Total)
	}
	return []any{
		"total", s.Total,
		"successful", s.Successful,
		"failed", s.Failed,
		"avg_duration_ms", avg.Milliseconds(),
		"errors", s.Errors,
	}
}

// Monitor aggregates connection statistics for a single run. Safe for
// concurrent use.
type Monitor struct {
	mu         sync.Mutex
	tika       serviceStats
	opensearch serviceStats
	logger     *slog.Logger
}

// NewMonitor creates a Monitor logging through the given logger.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{logger: logger}
}

// RecordTikaRequest registers one attempt against the Tika service.
func (m *Monitor) RecordTikaRequest(success bool, duration time.Duration, errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tika.record(success, duration, errType)
}

// RecordSearchOperation registers one operation against the search engine.
func (m *Monitor) RecordSearchOperation(success bool, duration time.Duration, errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opensearch.record(success, duration, errType)
}

// LogSummary emits the end-of-run summary as two JSON records.
func (m *Monitor) LogSummary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("connection summary",
		append([]any{"event_type", "tika_summary"}, m.tika.attrs()...)...)
	m.logger.Info("connection summary",
		append([]any{"event_type", "opensearch_summary"}, m.opensearch.attrs()...)...)
}

// LogTikaRequest records the start of a Tika extraction call.
func (m *Monitor) LogTikaRequest(filepath string, fileSize int64, contentType, url string) {
	m.logger.Info("tika request",
		"event_type", "tika_request",
		"filepath", filepath,
		"file_size_bytes", fileSize,
		"content_type", contentType,
		"tika_url", url,
	)
}

// LogTikaResponse records a successful Tika extraction call.
func (m *Monitor) LogTikaResponse(filepath string, duration time.Duration, responseSize int, statusCode int) {
	m.logger.Info("tika response",
		"event_type", "tika_response",
		"filepath", filepath,
		"duration_ms", duration.Milliseconds(),
		"response_size_bytes", responseSize,
		"status_code", statusCode,
	)
	m.RecordTikaRequest(true, duration, "")
}

// LogTikaError records a failed Tika extraction call.
func (m *Monitor) LogTikaError(filepath, errType, message string, duration time.Duration, fileSize int64) {
	m.logger.Error("tika error",
		"event_type", "tika_error",
		"filepath", filepath,
		"error_type", errType,
		"error_message", message,
		"duration_ms", duration.Milliseconds(),
		"file_size_bytes", fileSize,
	)
	m.RecordTikaRequest(false, duration, errType)
}

// LogSearchOperation records a successful search-engine operation.
func (m *Monitor) LogSearchOperation(operation, index string, duration time.Duration, documentID string) {
	m.logger.Debug("opensearch operation",
		"event_type", "opensearch_operation",
		"operation", operation,
		"index", index,
		"duration_ms", duration.Milliseconds(),
		"document_id", documentID,
	)
	m.RecordSearchOperation(true, duration, "")
}

// LogSearchError records a failed search-engine operation.
func (m *Monitor) LogSearchError(operation, index, errType, message string, duration time.Duration, documentID string) {
	m.logger.Error("opensearch error",
		"event_type", "opensearch_error",
		"operation", operation,
		"index", index,
		"error_type", errType,
		"error_message", message,
		"duration_ms", duration.Milliseconds(),
		"document_id", documentID,
	)
	m.RecordSearchOperation(false, duration, errType)
}
