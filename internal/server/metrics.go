package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Metrics holds application counters.
type Metrics struct {
	mu sync.RWMutex

	uploadsTotal        int64
	uploadBytesTotal    int64
	uploadErrorsTotal   int64
	uploadDurationTotal time.Duration

	downloadsTotal        int64
	downloadBytesTotal    int64
	downloadErrorsTotal   int64
	downloadDurationTotal time.Duration

	loginsTotal int64
	sharesTotal int64

	requestsTotal    int64
	requestErrors4xx int64
	requestErrors5xx int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	return globalMetrics
}

func (m *Metrics) RecordUpload(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadBytesTotal += bytes
	m.uploadDurationTotal += duration
}

func (m *Metrics) RecordUploadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErrorsTotal++
}

func (m *Metrics) RecordDownload(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadsTotal++
	m.downloadBytesTotal += bytes
	m.downloadDurationTotal += duration
}

func (m *Metrics) RecordDownloadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadErrorsTotal++
}

func (m *Metrics) RecordLogin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginsTotal++
}

func (m *Metrics) RecordShare() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharesTotal++
}

func (m *Metrics) RecordRequest(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	switch {
	case status >= 500:
		m.requestErrors5xx++
	case status >= 400:
		m.requestErrors4xx++
	}
}

// Snapshot returns the counters as a flat map for the JSON endpoint.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"uploads_total":        m.uploadsTotal,
		"upload_bytes_total":   m.uploadBytesTotal,
		"upload_errors_total":  m.uploadErrorsTotal,
		"upload_ms_total":      m.uploadDurationTotal.Milliseconds(),
		"downloads_total":      m.downloadsTotal,
		"download_bytes_total": m.downloadBytesTotal,
		"download_errors_total": m.downloadErrorsTotal,
		"download_ms_total":    m.downloadDurationTotal.Milliseconds(),
		"logins_total":         m.loginsTotal,
		"shares_total":         m.sharesTotal,
		"requests_total":       m.requestsTotal,
		"request_errors_4xx":   m.requestErrors4xx,
		"request_errors_5xx":   m.requestErrors5xx,
	}
}

// metricsHandler serves GET /metrics as JSON counters.
func metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetMetrics().Snapshot())
	})
}
