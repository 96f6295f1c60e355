package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nicktill/tinycarbon/pkg/server/monitor"
	"github.com/nicktill/tinycarbon/pkg/storage/badger"
)

const maxLogBackoff = 5 * time.Minute

// errorLog rate-limits repeated failure logs with exponential backoff:
// 1s, 2s, 4s ... up to maxLogBackoff between lines.
type errorLog struct {
	consecutive int
	last        time.Time
}

func (e *errorLog) failure(now time.Time, format string, args ...interface{}) {
	e.consecutive++
	backoff := time.Duration(1<<uint(min(e.consecutive-1, 8))) * time.Second
	if backoff > maxLogBackoff {
		backoff = maxLogBackoff
	}
	if e.last.IsZero() || now.Sub(e.last) >= backoff {
		log.Printf(format+" (error #%d, backoff %v)", append(args, e.consecutive, backoff)...)
		e.last = now
	}
}

func (e *errorLog) success(what string) {
	if e.consecutive > 0 {
		log.Printf("%s recovered after %d errors", what, e.consecutive)
		e.consecutive = 0
		e.last = time.Time{}
	}
}

// RunBadgerGC runs index garbage collection periodically to reclaim disk
// space in the value log.
func RunBadgerGC(ctx context.Context, index *badger.Index, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Index GC scheduler started (runs every %v)", interval)
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := index.RunGC(0.5); err != nil {
				log.Printf("Index GC failed: %v", err)
				continue
			}
			log.Printf("Index GC completed in %v", time.Since(start).Round(time.Millisecond))
		case <-ctx.Done():
			log.Println("Stopping index GC scheduler")
			return
		}
	}
}

// RunStorageCheck logs when the data directory crosses its size limit and
// when it drops back under.
func RunStorageCheck(ctx context.Context, sm *monitor.StorageMonitor, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var errs errorLog
	wasOver := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			over, err := sm.OverLimit()
			if err != nil {
				errs.failure(time.Now(), "Failed to measure storage usage: %v", err)
				continue
			}
			errs.success("Storage check")

			if over && !wasOver {
				used, _ := sm.GetUsage()
				log.Printf("WARNING: storage usage %d bytes exceeds limit of %d bytes", used, sm.GetLimit())
			} else if !over && wasOver {
				log.Println("Storage usage back under limit")
			}
			wasOver = over
		}
	}
}
