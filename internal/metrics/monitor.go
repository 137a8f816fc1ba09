// Package metrics aggregates process-wide counters for document handling.
// The aggregate is constructed once and injected; nothing reads or writes
// package-level state.
package metrics

import (
	"log"
	"sync"
	"time"
)

type Monitor struct {
	mu             sync.Mutex
	startedAt      time.Time
	filesProcessed int
	bytesExtracted int64
	bytesCleaned   int64
}

func NewMonitor() *Monitor {
	return &Monitor{startedAt: time.Now()}
}

// LogProcessed records one ingested file and its size.
func (m *Monitor) LogProcessed(filename string, sizeBytes int64, elapsed time.Duration) {
	m.mu.Lock()
	m.filesProcessed++
	m.bytesExtracted += sizeBytes
	total := m.filesProcessed
	m.mu.Unlock()

	log.Printf("processed %s (%.1fMB) in %.2fs, total files: %d",
		filename, float64(sizeBytes)/1e6, elapsed.Seconds(), total)
}

// LogCleanup records bytes freed by temp-file removal.
func (m *Monitor) LogCleanup(bytesFreed int64) {
	m.mu.Lock()
	m.bytesCleaned += bytesFreed
	total := m.bytesCleaned
	m.mu.Unlock()

	log.Printf("cleanup freed %.2fMB, total freed: %.2fMB",
		float64(bytesFreed)/1e6, float64(total)/1e6)
}

type Snapshot struct {
	UptimeSeconds  int   `json:"uptime_seconds"`
	FilesProcessed int   `json:"files_processed"`
	BytesExtracted int64 `json:"bytes_extracted"`
	BytesCleaned   int64 `json:"bytes_cleaned"`
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		UptimeSeconds:  int(time.Since(m.startedAt).Seconds()),
		FilesProcessed: m.filesProcessed,
		BytesExtracted: m.bytesExtracted,
		BytesCleaned:   m.bytesCleaned,
	}
}
