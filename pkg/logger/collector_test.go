package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestCollectorDeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "arena.logs", Publisher: pub})

	c.AddLog("error", "placement failed", map[string]interface{}{"bot_id": "a"}, "x.go:1")
	c.AddLog("error", "placement failed", map[string]interface{}{"bot_id": "a"}, "x.go:1")
	c.AddLog("error", "placement failed", map[string]interface{}{"bot_id": "b"}, "x.go:1")
	c.Close()

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "arena.logs", pub.topics[0])
	counts := map[interface{}]int{}
	for _, e := range pub.batches[0] {
		counts[e.Fields["bot_id"]] = e.Count
	}
	assert.Equal(t, map[interface{}]int{"a": 2, "b": 1}, counts)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "t", Publisher: pub})
	c.AddLog("error", "one", nil, "")
	c.AddLog("error", "two", nil, "")
	c.Close()

	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0], 2)
}

func TestLoggerErrorFeedsCollector(t *testing.T) {
	pub := &recordingPublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "t", Publisher: pub})
	l.With("session").Error("boom", Error(errors.New("x")), String("bot_id", "a"))
	l.RemoveCollector()

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "boom", pub.batches[0][0].Message)
	assert.Equal(t, "x", pub.batches[0][0].Fields["error"])
}
