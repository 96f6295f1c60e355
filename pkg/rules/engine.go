package rules

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Engine publishes compiled rule sets. Readers call Rules() once per sample
// and work against that snapshot; Reload swaps in a new set atomically.
type Engine struct {
	rewritePath     string
	aggregationPath string

	current atomic.Pointer[RuleSet]

	mu       sync.Mutex // serializes reloads
	modTimes [2]time.Time
	reloads  atomic.Uint64
	failures atomic.Uint64
}

// NewEngine creates an engine reading the given files. An empty path means
// "no rules of that kind". The engine starts with an empty rule set until
// Reload is called.
func NewEngine(rewritePath, aggregationPath string) *Engine {
	e := &Engine{
		rewritePath:     rewritePath,
		aggregationPath: aggregationPath,
	}
	e.current.Store(&RuleSet{})
	return e
}

// Rules returns the active rule set.
func (e *Engine) Rules() *RuleSet {
	return e.current.Load()
}

// Swap publishes rs and returns the set it replaced.
func (e *Engine) Swap(rs *RuleSet) *RuleSet {
	if rs == nil {
		rs = &RuleSet{}
	}
	return e.current.Swap(rs)
}

// Reload parses both rule files. On any error the active set is kept and
// the error is returned; otherwise the new set fully replaces it.
func (e *Engine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, modTimes, err := e.load()
	if err != nil {
		e.failures.Add(1)
		return err
	}

	e.current.Store(rs)
	e.modTimes = modTimes
	e.reloads.Add(1)
	return nil
}

// Watch polls the rule files and reloads when either modification time
// changes. It returns when ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.changed() {
				continue
			}
			if err := e.Reload(); err != nil {
				log.Printf("Rule reload rejected, keeping previous rules: %v", err)
				continue
			}
			rs := e.Rules()
			log.Printf("Rules reloaded (%d pre, %d post, %d aggregation)", len(rs.Pre), len(rs.Post), len(rs.Aggregations))
		}
	}
}

// Stats returns how many reloads succeeded and failed.
func (e *Engine) Stats() (reloads, failures uint64) {
	return e.reloads.Load(), e.failures.Load()
}

func (e *Engine) changed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, path := range []string{e.rewritePath, e.aggregationPath} {
		if !modTime(path).Equal(e.modTimes[i]) {
			return true
		}
	}
	return false
}

func (e *Engine) load() (*RuleSet, [2]time.Time, error) {
	var modTimes [2]time.Time
	rs := &RuleSet{}

	if f, err := openRuleFile(e.rewritePath); err != nil {
		return nil, modTimes, err
	} else if f != nil {
		defer f.Close()
		rs.Pre, rs.Post, err = ParseRewriteRules(e.rewritePath, f)
		if err != nil {
			return nil, modTimes, err
		}
		modTimes[0] = modTime(e.rewritePath)
	}

	if f, err := openRuleFile(e.aggregationPath); err != nil {
		return nil, modTimes, err
	} else if f != nil {
		defer f.Close()
		rs.Aggregations, err = ParseAggregationRules(e.aggregationPath, f)
		if err != nil {
			return nil, modTimes, err
		}
		modTimes[1] = modTime(e.aggregationPath)
	}

	return rs, modTimes, nil
}

// openRuleFile returns nil for an unset or missing file.
func openRuleFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open rule file: %w", err)
	}
	return f, nil
}

func modTime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
