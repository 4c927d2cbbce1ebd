package obsv

import "github.com/loadfabric/loadfabric/internal/stats"

// CountingSink is a stats.Sink that only increments Metrics.StatsPublished —
// it exists so the real-time stat fan-out (internal/stats.Reporter) has a
// trivially cheap subscriber to exercise alongside a real network or
// websocket sink, giving an operator a running count independent of
// whichever transport sinks are also registered.
type CountingSink struct {
	metrics *Metrics
}

// NewCountingSink builds a CountingSink bound to m.
func NewCountingSink(m *Metrics) *CountingSink {
	return &CountingSink{metrics: m}
}

// Publish implements stats.Sink.
func (c *CountingSink) Publish(samples []stats.IntervalSample) {
	c.metrics.StatsPublished.Add(float64(len(samples)))
}
