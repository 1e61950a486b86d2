package storage

import (
	"log/slog"
	"sync"
)

// Journal data types, one subdirectory each under a tab's path segment.
const (
	DataTypeRequests = "requests"
	DataTypeReplays  = "replays"
)

// WriterRegistry manages one JSONLWriter per path segment and data type so
// each page's journal lands in its own directory.
type WriterRegistry struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int

	// writers maps pathSegment -> dataType -> writer
	// e.g., "account_settings" -> "requests" -> *JSONLWriter
	writers map[string]map[string]*JSONLWriter
	mu      sync.RWMutex
}

// NewWriterRegistry creates a new WriterRegistry for managing multiple JSONL writers.
func NewWriterRegistry(baseDir string, bufferSize int, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]map[string]*JSONLWriter),
	}
}

// GetWriter returns (or creates) the writer for pathSegment and dataType.
// browserID names the file; the first caller for a segment decides it.
func (r *WriterRegistry) GetWriter(pathSegment, dataType, browserID string) *JSONLWriter {
	r.mu.RLock()
	if writer, ok := r.writers[pathSegment][dataType]; ok {
		r.mu.RUnlock()
		return writer
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if writer, ok := r.writers[pathSegment][dataType]; ok {
		return writer
	}

	if r.writers[pathSegment] == nil {
		r.writers[pathSegment] = make(map[string]*JSONLWriter)
	}

	writer := NewJSONLWriter(r.baseDir, pathSegment+"/"+dataType, browserID, r.bufferSize, r.maxSizeMB)
	r.writers[pathSegment][dataType] = writer

	slog.Info("Created new JSONL writer",
		"path_segment", pathSegment,
		"data_type", dataType,
		"browser_id", browserID)

	return writer
}

// Count returns the number of open writers.
func (r *WriterRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, typeMap := range r.writers {
		n += len(typeMap)
	}
	return n
}

// Close closes all managed writers.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for pathSeg, typeMap := range r.writers {
		for dataType, writer := range typeMap {
			if err := writer.Close(); err != nil {
				slog.Error("Failed to close writer",
					"path_segment", pathSeg,
					"data_type", dataType,
					"error", err)
				lastErr = err
			}
		}
	}

	r.writers = make(map[string]map[string]*JSONLWriter)

	return lastErr
}
