package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tarun-kavipurapu/desk-viewer/pkg/logger"
)

// RateSource is anything that reports per-direction throughput, typically a
// secure channel.
type RateSource interface {
	Addr() string
	SentRate() float64
	ReceivedRate() float64
	BytesSent() int64
	BytesReceived() int64
}

var (
	sentRateDesc = prometheus.NewDesc("deskview_channel_sent_bytes_per_second",
		"Send throughput over the last complete bandwidth window.", []string{"peer"}, nil)
	recvRateDesc = prometheus.NewDesc("deskview_channel_received_bytes_per_second",
		"Receive throughput over the last complete bandwidth window.", []string{"peer"}, nil)
	sentTotalDesc = prometheus.NewDesc("deskview_channel_sent_bytes_total",
		"Logical bytes sent over the channel lifetime.", []string{"peer"}, nil)
	recvTotalDesc = prometheus.NewDesc("deskview_channel_received_bytes_total",
		"Logical bytes received over the channel lifetime.", []string{"peer"}, nil)
)

// Collector exposes the tracked channels to Prometheus. Values are read at
// scrape time so nothing is cached here.
type Collector struct {
	mu      sync.RWMutex
	sources map[RateSource]struct{}
}

func NewCollector() *Collector {
	return &Collector{sources: make(map[RateSource]struct{})}
}

// Track starts exporting src.
func (c *Collector) Track(src RateSource) {
	c.mu.Lock()
	c.sources[src] = struct{}{}
	c.mu.Unlock()
}

// Untrack stops exporting src.
func (c *Collector) Untrack(src RateSource) {
	c.mu.Lock()
	delete(c.sources, src)
	c.mu.Unlock()
}

// Sources returns a snapshot of the tracked sources.
func (c *Collector) Sources() []RateSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]RateSource, 0, len(c.sources))
	for src := range c.sources {
		list = append(list, src)
	}
	return list
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sentRateDesc
	ch <- recvRateDesc
	ch <- sentTotalDesc
	ch <- recvTotalDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.Sources() {
		peer := src.Addr()
		ch <- prometheus.MustNewConstMetric(sentRateDesc, prometheus.GaugeValue, src.SentRate(), peer)
		ch <- prometheus.MustNewConstMetric(recvRateDesc, prometheus.GaugeValue, src.ReceivedRate(), peer)
		ch <- prometheus.MustNewConstMetric(sentTotalDesc, prometheus.CounterValue, float64(src.BytesSent()), peer)
		ch <- prometheus.MustNewConstMetric(recvTotalDesc, prometheus.CounterValue, float64(src.BytesReceived()), peer)
	}
}

// LogPeriodic logs runtime and per-channel throughput at the given interval
// until ctx is done.
func LogPeriodic(ctx context.Context, interval time.Duration, c *Collector) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | HeapSys=%dMB | Channels=%d",
				runtime.NumGoroutine(),
				m.HeapAlloc/1024/1024,
				m.HeapSys/1024/1024,
				len(c.Sources()),
			)
			for _, src := range c.Sources() {
				logger.Sugar.Infof("[Metrics] peer=%s | Sent=%s (%s) | Received=%s (%s)",
					src.Addr(),
					RateString(src.SentRate()), SizeSuffix(src.BytesSent()),
					RateString(src.ReceivedRate()), SizeSuffix(src.BytesReceived()),
				)
			}
		}
	}
}
