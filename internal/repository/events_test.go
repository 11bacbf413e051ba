package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/pkg/cache"
	"BotArena/pkg/kafka"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaEventPublisherKeysByBot(t *testing.T) {
	w := &captureWriter{}
	pub := NewKafkaEventPublisher(kafka.NewProducerWithWriter(w, "gzip"), "arena.events")

	ev := models.Event{Type: models.EventTradeOpened, Key: "momentum-v1", At: t0, Payload: map[string]string{"trade_id": "t1"}}
	require.NoError(t, pub.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "arena.events", msg.Topic)
	assert.Equal(t, "momentum-v1", string(msg.Key))

	var got struct {
		Type    models.EventType  `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, models.EventTradeOpened, got.Type)
	assert.Equal(t, "t1", got.Payload["trade_id"])
}

func TestKafkaEventPublisherError(t *testing.T) {
	pub := NewKafkaEventPublisher(kafka.NewProducerWithWriter(&captureWriter{err: errors.New("down")}, "gzip"), "arena.events")
	err := pub.Publish(context.Background(), models.Event{Type: models.EventEpochCompleted})
	assert.ErrorContains(t, err, "epoch.completed")
}

func TestCachedStatus(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	st := NewCachedStatus(mc, time.Minute)
	ctx := context.Background()

	_, err := st.Bots(ctx)
	assert.True(t, errors.Is(err, models.ErrNotCached))
	_, err = st.Risk(ctx)
	assert.True(t, errors.Is(err, models.ErrNotCached))

	bots := []models.BotState{{Bot: models.Bot{ID: "a", StrategyType: models.StrategyHybrid, LifetimePnL: decimal.NewFromFloat(12.5)}, Suspended: true}}
	require.NoError(t, st.PutBots(ctx, bots))
	gotBots, err := st.Bots(ctx)
	require.NoError(t, err)
	require.Len(t, gotBots, 1)
	assert.Equal(t, "a", gotBots[0].ID)
	assert.True(t, gotBots[0].Suspended)
	assert.True(t, gotBots[0].LifetimePnL.Equal(decimal.NewFromFloat(12.5)))

	require.NoError(t, st.PutRisk(ctx, models.RiskStatus{Profile: models.ProfileLive, Day: "2026-10-19", ArenaSuspended: true}))
	risk, err := st.Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ProfileLive, risk.Profile)
	assert.True(t, risk.ArenaSuspended)
}
