package metrics

import (
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
)

// Tag is a key/value annotation attached to an emitted metric.
type Tag struct {
	Key   string
	Value string
}

// Sink is a fire-and-forget metrics emitter. Implementations must never block
// the verification pipeline; emission failures are swallowed.
type Sink interface {
	Inc(name string, tags ...Tag)
	Timing(name string, d time.Duration, tags ...Tag)
}

// StatsdSink emits metrics over UDP to a StatsD collector.
type StatsdSink struct {
	client statsd.Statter
}

// NewStatsdSink connects to the collector at addr with the given prefix.
func NewStatsdSink(addr, prefix string) (*StatsdSink, error) {
	client, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address: addr,
		Prefix:  prefix,
	})
	if err != nil {
		return nil, err
	}
	return &StatsdSink{client: client}, nil
}

// Inc increments a counter.
func (s *StatsdSink) Inc(name string, tags ...Tag) {
	_ = s.client.Inc(name, 1, 1.0, convertTags(tags)...)
}

// Timing records a duration in milliseconds.
func (s *StatsdSink) Timing(name string, d time.Duration, tags ...Tag) {
	_ = s.client.TimingDuration(name, d, 1.0, convertTags(tags)...)
}

// Close flushes and closes the underlying client.
func (s *StatsdSink) Close() error {
	return s.client.Close()
}

func convertTags(tags []Tag) []statsd.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]statsd.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, statsd.Tag{t.Key, t.Value})
	}
	return out
}

// Nop discards all metrics. Used in tests and when no collector is configured.
type Nop struct{}

func (Nop) Inc(string, ...Tag)                   {}
func (Nop) Timing(string, time.Duration, ...Tag) {}
