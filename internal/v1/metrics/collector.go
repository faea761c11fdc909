package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/artifactor-hq/collab-core/internal/v1/logging"
)

// Sample is one periodic system snapshot.
type Sample struct {
	Timestamp    time.Time
	CPUPercent   float64
	MemoryRSS    uint64
	MemoryVMS    uint64
	IOReadBytes  uint64
	IOWriteBytes uint64
	NetBytesSent uint64
	NetBytesRecv uint64
	LoadAvg1     float64
}

// ring is a fixed-capacity circular buffer of Sample, oldest overwritten first.
type ring struct {
	buf  []Sample
	next int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// snapshot returns samples oldest-first, dropping any older than cutoff.
func (r *ring) snapshot(cutoff time.Time) []Sample {
	out := make([]Sample, 0, r.size)
	start := (r.next - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		s := r.buf[(start+i)%len(r.buf)]
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// TimerHandle is returned by Collector.TimerScope; Stop records the elapsed
// duration against the named timer.
type TimerHandle struct {
	name  string
	tags  map[string]string
	start time.Time
	c     *Collector
}

// Stop records the duration since the timer was acquired.
func (h *TimerHandle) Stop() {
	h.c.RecordTimer(h.name, time.Since(h.start), h.tags)
}

// Collector exposes generic named counters/gauges/histograms/timers on top of
// the package's promauto metrics, and runs the periodic process-snapshot
// background task (CPU/memory/IO/network/load) described by the collection
// interval and retention window.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	timers     map[string][]time.Duration

	samples   *ring
	retention time.Duration
	interval  time.Duration

	proc *process.Process
	cron *cron.Cron
}

// NewCollector builds a Collector that retains `retention` worth of samples,
// taken every `interval`, in a ring buffer sized accordingly.
func NewCollector(interval, retention time.Duration) (*Collector, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if retention <= 0 {
		retention = time.Hour
	}
	capacity := int(retention/interval) + 1

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Collector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timers:     make(map[string][]time.Duration),
		samples:    newRing(capacity),
		retention:  retention,
		interval:   interval,
		proc:       proc,
	}, nil
}

func key(name string, tags map[string]string) string {
	k := name
	for tk, tv := range tags {
		k += "|" + tk + "=" + tv
	}
	return k
}

// IncrementCounter adds delta to the named counter.
func (c *Collector) IncrementCounter(name string, delta float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key(name, tags)] += delta
}

// SetGauge sets the named gauge to value.
func (c *Collector) SetGauge(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key(name, tags)] = value
}

// AddHistogramValue appends v to the named histogram's observation set.
func (c *Collector) AddHistogramValue(name string, v float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(name, tags)
	c.histograms[k] = append(c.histograms[k], v)
}

// RecordTimer appends duration to the named timer's observation set.
func (c *Collector) RecordTimer(name string, d time.Duration, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(name, tags)
	c.timers[k] = append(c.timers[k], d)
}

// TimerScope acquires a timer that records its own elapsed duration when stopped.
func (c *Collector) TimerScope(name string, tags map[string]string) *TimerHandle {
	return &TimerHandle{name: name, tags: tags, start: time.Now(), c: c}
}

// CounterValue returns the current value of a counter (for summary queries).
func (c *Collector) CounterValue(name string, tags map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key(name, tags)]
}

// GaugeValue returns the current value of a gauge.
func (c *Collector) GaugeValue(name string, tags map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gauges[key(name, tags)]
}

// Snapshots returns the retained process samples, oldest first.
func (c *Collector) Snapshots() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples.snapshot(time.Now().Add(-c.retention))
}

// Start schedules the periodic sampling task. Stop via ctx cancellation.
func (c *Collector) Start(ctx context.Context) error {
	c.cron = cron.New(cron.WithSeconds())
	spec := "@every " + c.interval.String()
	_, err := c.cron.AddFunc(spec, func() { c.sampleOnce(ctx) })
	if err != nil {
		return err
	}
	c.cron.Start()

	go func() {
		<-ctx.Done()
		c.cron.Stop()
	}()
	return nil
}

func (c *Collector) sampleOnce(ctx context.Context) {
	s := Sample{Timestamp: time.Now()}

	if cpuPct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		s.CPUPercent = cpuPct
	}
	if memInfo, err := c.proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		s.MemoryRSS = memInfo.RSS
		s.MemoryVMS = memInfo.VMS
	}
	if ioCounters, err := c.proc.IOCountersWithContext(ctx); err == nil && ioCounters != nil {
		s.IOReadBytes = ioCounters.ReadBytes
		s.IOWriteBytes = ioCounters.WriteBytes
	}
	if netStats, err := net.IOCountersWithContext(ctx, false); err == nil && len(netStats) > 0 {
		s.NetBytesSent = netStats[0].BytesSent
		s.NetBytesRecv = netStats[0].BytesRecv
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		s.LoadAvg1 = avg.Load1
	}

	c.mu.Lock()
	c.samples.push(s)
	c.mu.Unlock()

	logging.Info(ctx, "metrics snapshot taken")
}
