package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nicktill/tinycarbon/pkg/metric"
)

// ErrCacheFull is returned by Put when the cache already holds MaxSize points
var ErrCacheFull = errors.New("write cache is full")

// Strategy decides which metric queue the writer drains next
type Strategy int

const (
	// StrategyMax drains the largest queue first
	StrategyMax Strategy = iota
	// StrategySorted snapshots queues by size and drains them in that order
	StrategySorted
	// StrategyNaive drains queues in the order they were created
	StrategyNaive
)

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "max":
		return StrategyMax, nil
	case "sorted":
		return StrategySorted, nil
	case "naive":
		return StrategyNaive, nil
	}
	return 0, fmt.Errorf("unknown cache strategy %q", s)
}

func (s Strategy) String() string {
	switch s {
	case StrategyMax:
		return "max"
	case StrategySorted:
		return "sorted"
	case StrategyNaive:
		return "naive"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Stats is a snapshot of the cache counters. At every snapshot
// Dropped + Written + Queued == Received.
type Stats struct {
	Received uint64 `json:"received"`
	Queued   uint64 `json:"queued"`
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`

	DroppedFull     uint64 `json:"droppedFull"`
	DroppedRange    uint64 `json:"droppedRange"`
	DroppedError    uint64 `json:"droppedError"`
	DroppedCreate   uint64 `json:"droppedCreate"`
	DroppedShutdown uint64 `json:"droppedShutdown"`

	// Size is the number of points waiting in queues, InFlight the number
	// detached by the writer and not yet finished.
	Size     int    `json:"size"`
	InFlight int    `json:"inFlight"`
	MaxSize  int    `json:"maxSize"`
	Metrics  int    `json:"metrics"`
	Strategy string `json:"strategy"`
}

// MetricStats are the counters of one metric
type MetricStats struct {
	Received uint64 `json:"received"`
	Queued   uint64 `json:"queued"`
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`
}

// QueueInfo describes one pending queue
type QueueInfo struct {
	Metric string `json:"metric"`
	Size   int    `json:"size"`
}

// Outcome tells the cache what happened to a detached batch. The fields
// must add up to the batch size.
type Outcome struct {
	Written  int
	Range    int
	Error    int
	Create   int
	Shutdown int
}

func (o Outcome) total() int {
	return o.Written + o.Range + o.Error + o.Create + o.Shutdown
}

// Cache holds points per metric until the writer persists them. Put never
// touches storage.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	strategy Strategy

	queues   map[string][]metric.Datapoint
	size     int
	inFlight int

	// arrival is the creation order of queues for the naive strategy; it
	// may hold names whose queue has since been drained.
	arrival []string
	// sorted is the pending snapshot for the sorted strategy
	sorted []string

	stats     Stats
	perMetric map[string]*MetricStats

	notify chan struct{}
}

// New creates a cache holding at most maxSize points
func New(maxSize int, strategy Strategy) *Cache {
	return &Cache{
		maxSize:   maxSize,
		strategy:  strategy,
		queues:    make(map[string][]metric.Datapoint),
		perMetric: make(map[string]*MetricStats),
		notify:    make(chan struct{}, 1),
	}
}

// Put appends a point to the metric's queue. It returns ErrCacheFull, and
// counts the point as dropped, when the cache is at capacity.
func (c *Cache) Put(name string, dp metric.Datapoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.metricStats(name)
	c.stats.Received++
	ms.Received++

	if c.size+1 > c.maxSize {
		c.stats.Dropped++
		c.stats.DroppedFull++
		ms.Dropped++
		return ErrCacheFull
	}

	q, ok := c.queues[name]
	if !ok && c.strategy == StrategyNaive {
		c.arrival = append(c.arrival, name)
	}
	c.queues[name] = append(q, dp)
	c.size++
	c.stats.Queued++
	ms.Queued++

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop detaches the next queue chosen by the strategy. The points stay
// counted as queued until Complete or Requeue is called for them.
func (c *Cache) Pop() (string, []metric.Datapoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queues) == 0 {
		return "", nil, false
	}

	var name string
	switch c.strategy {
	case StrategySorted:
		name = c.nextSorted()
	case StrategyNaive:
		name = c.nextNaive()
	default:
		name = c.largest()
	}

	points := c.queues[name]
	delete(c.queues, name)
	c.size -= len(points)
	c.inFlight += len(points)
	return name, points, true
}

// Complete records what happened to a batch returned by Pop.
func (c *Cache) Complete(name string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := o.total()
	c.inFlight -= n
	c.stats.Queued -= uint64(n)
	c.stats.Written += uint64(o.Written)
	c.stats.DroppedRange += uint64(o.Range)
	c.stats.DroppedError += uint64(o.Error)
	c.stats.DroppedCreate += uint64(o.Create)
	c.stats.DroppedShutdown += uint64(o.Shutdown)
	c.stats.Dropped += uint64(n - o.Written)

	ms := c.metricStats(name)
	ms.Queued -= uint64(n)
	ms.Written += uint64(o.Written)
	ms.Dropped += uint64(n - o.Written)
}

// Requeue puts a batch returned by Pop back in front of any points that
// arrived since. Requeued points may exceed MaxSize; they were admitted
// already.
func (c *Cache) Requeue(name string, points []metric.Datapoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[name]
	if !ok && c.strategy == StrategyNaive {
		c.arrival = append([]string{name}, c.arrival...)
	}
	c.queues[name] = append(append(make([]metric.Datapoint, 0, len(points)+len(q)), points...), q...)
	c.size += len(points)
	c.inFlight -= len(points)
}

// DropAll discards every queued point, counting it as a shutdown drop,
// and returns how many were dropped.
func (c *Cache) DropAll() int {
	c.mu.Lock()
	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	c.mu.Unlock()

	dropped := 0
	for _, name := range names {
		c.mu.Lock()
		points, ok := c.queues[name]
		if ok {
			delete(c.queues, name)
			c.size -= len(points)
			c.inFlight += len(points)
		}
		c.mu.Unlock()

		if ok {
			c.Complete(name, Outcome{Shutdown: len(points)})
			dropped += len(points)
		}
	}
	return dropped
}

// Notify returns a channel that receives after Put adds a point
func (c *Cache) Notify() <-chan struct{} {
	return c.notify
}

// Size returns the number of points waiting in queues
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.size
	s.InFlight = c.inFlight
	s.MaxSize = c.maxSize
	s.Metrics = len(c.queues)
	s.Strategy = c.strategy.String()
	return s
}

// MetricStats returns the counters of one metric
func (c *Cache) MetricStats(name string) (MetricStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms, ok := c.perMetric[name]
	if !ok {
		return MetricStats{}, false
	}
	return *ms, true
}

// TopQueues returns the n largest queues, largest first
func (c *Cache) TopQueues(n int) []QueueInfo {
	c.mu.Lock()
	infos := make([]QueueInfo, 0, len(c.queues))
	for name, q := range c.queues {
		infos = append(infos, QueueInfo{Metric: name, Size: len(q)})
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Size != infos[j].Size {
			return infos[i].Size > infos[j].Size
		}
		return infos[i].Metric < infos[j].Metric
	})
	if n > 0 && len(infos) > n {
		infos = infos[:n]
	}
	return infos
}

func (c *Cache) metricStats(name string) *MetricStats {
	ms, ok := c.perMetric[name]
	if !ok {
		ms = &MetricStats{}
		c.perMetric[name] = ms
	}
	return ms
}

func (c *Cache) largest() string {
	var best string
	bestSize := -1
	for name, q := range c.queues {
		if len(q) > bestSize || (len(q) == bestSize && name < best) {
			best, bestSize = name, len(q)
		}
	}
	return best
}

func (c *Cache) nextSorted() string {
	for {
		if len(c.sorted) == 0 {
			c.sorted = make([]string, 0, len(c.queues))
			for name := range c.queues {
				c.sorted = append(c.sorted, name)
			}
			sort.Slice(c.sorted, func(i, j int) bool {
				a, b := len(c.queues[c.sorted[i]]), len(c.queues[c.sorted[j]])
				if a != b {
					return a > b
				}
				return c.sorted[i] < c.sorted[j]
			})
		}

		name := c.sorted[0]
		c.sorted = c.sorted[1:]
		if _, ok := c.queues[name]; ok {
			return name
		}
	}
}

func (c *Cache) nextNaive() string {
	for len(c.arrival) > 0 {
		name := c.arrival[0]
		c.arrival = c.arrival[1:]
		if _, ok := c.queues[name]; ok {
			return name
		}
	}
	// Not reached while every queue is recorded in arrival.
	return c.largest()
}
