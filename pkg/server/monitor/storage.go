package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// StorageMonitor tracks disk usage of the metric tree. Whisper files may be
// sparse, so usage counts allocated blocks, not logical size.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a new storage monitor. maxBytes <= 0 disables
// the limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current storage usage in bytes, cached for 10 seconds.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// OverLimit reports whether usage exceeds the limit
func (sm *StorageMonitor) OverLimit() (bool, error) {
	if sm.maxBytes <= 0 {
		return false, nil
	}
	usage, err := sm.GetUsage()
	if err != nil {
		return false, err
	}
	return usage > sm.maxBytes, nil
}

func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		actual, err := getActualFileSize(filePath, info)
		if err != nil {
			actual = info.Size()
		}
		size += actual
		return nil
	})
	return size, err
}
