package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	applogger "BotArena/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	openFrame   = `{"e":"kline","E":1728561630000,"s":"BTCUSDT","k":{"t":1728561600000,"T":1728561659999,"s":"BTCUSDT","c":"62010.50","x":false}}`
	closedFrame = `{"e":"kline","E":1728561660001,"s":"BTCUSDT","k":{"t":1728561600000,"T":1728561659999,"s":"BTCUSDT","c":"62020.00","x":true}}`
	ackFrame    = `{"result":null,"id":1}`
)

func TestParseKline(t *testing.T) {
	tk, ok := ParseKline([]byte(openFrame))
	require.True(t, ok)
	assert.False(t, tk.Closed)
	assert.Equal(t, 62010.5, tk.Price)
	assert.Equal(t, time.UnixMilli(1728561630000).UTC(), tk.Time)

	tk, ok = ParseKline([]byte(closedFrame))
	require.True(t, ok)
	assert.True(t, tk.Closed)
	assert.Equal(t, time.UnixMilli(1728561659999).UTC(), tk.Time)

	_, ok = ParseKline([]byte(ackFrame))
	assert.False(t, ok)
	_, ok = ParseKline([]byte(`{"e":"kline","k":{"c":"nope"}}`))
	assert.False(t, ok)
}

func TestStreamSubscribesAndReads(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req
		for _, f := range []string{ackFrame, openFrame, closedFrame} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, "BTCUSDT", 10*time.Millisecond, time.Hour, applogger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))

	req := <-subscribed
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, []string{"btcusdt@kline_1m"}, req.Params)

	ticks, errs := c.Read(ctx)
	first := <-ticks
	second := <-ticks
	assert.False(t, first.Closed)
	assert.True(t, second.Closed)
	assert.Equal(t, 62020.0, second.Price)

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	// closing the connection ends the read loop with an error
	err, ok := <-errs
	if ok {
		assert.Error(t, err)
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New("ws://127.0.0.1:1", "btcusdt", 0, 0, applogger.Nop())
	assert.ErrorIs(t, c.Subscribe(context.Background()), errNotConnected)

	_, errs := c.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
}
