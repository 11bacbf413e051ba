package sentiment

import (
	"context"
	"testing"
	"time"

	applogger "BotArena/pkg/logger"
	"BotArena/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler() (*Handler, *Store) {
	st := NewStore()
	h := NewHandler("signals.sentiment", st, metrics.Nop{}, applogger.Nop())
	h.now = func() time.Time { return time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC) }
	return h, st
}

func TestScoreText(t *testing.T) {
	assert.Equal(t, 0.0, ScoreText("nothing to see"))
	assert.Equal(t, 1.0, ScoreText("BTC breakout, to the moon"))
	assert.Equal(t, -1.0, ScoreText("total crash, got rekt"))
	assert.Equal(t, 0.0, ScoreText("bull trap then dump"))
}

func TestHandleScoreAndText(t *testing.T) {
	h, st := newHandler()
	_, ok := st.Latest()
	assert.False(t, ok)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"source":"feed","score":0.4,"at":"2024-10-10T11:59:00Z"}`)))
	got, ok := st.Latest()
	require.True(t, ok)
	assert.Equal(t, 0.4, got.Score)
	assert.Equal(t, time.Date(2024, 10, 10, 11, 59, 0, 0, time.UTC), got.At)

	// text only, no timestamp: scored by keywords and stamped now
	require.NoError(t, h.Handle(context.Background(), []byte(`{"source":"x","text":"massive rally, buy"}`)))
	got, _ = st.Latest()
	assert.Equal(t, 1.0, got.Score)
	assert.Equal(t, "x", got.Source)
	assert.Equal(t, h.now(), got.At)
}

func TestHandleClampsAndOrders(t *testing.T) {
	h, st := newHandler()
	require.NoError(t, h.Handle(context.Background(), []byte(`{"source":"a","score":3,"at":1728561600}`)))
	got, _ := st.Latest()
	assert.Equal(t, 1.0, got.Score)

	// an older message does not overwrite a newer one
	require.NoError(t, h.Handle(context.Background(), []byte(`{"source":"b","score":-0.5,"at":1728561000}`)))
	got, _ = st.Latest()
	assert.Equal(t, "a", got.Source)
}

func TestHandleRejectsBadMessages(t *testing.T) {
	h, st := newHandler()
	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"source":"a"}`)))
	_, ok := st.Latest()
	assert.False(t, ok)
}
