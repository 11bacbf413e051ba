package usecase

import (
	"context"
	"sync"

	"BotArena/internal/domain/models"
	drepo "BotArena/internal/domain/repository"
	applogger "BotArena/pkg/logger"
)

// PriceSink receives every streamed tick (features.PriceWindow in production).
type PriceSink interface {
	Push(t models.PriceTick)
}

// PriceCollector pumps ticks from a price stream into a sink, reconnecting when the stream drops.
type PriceCollector struct {
	stream  drepo.PriceStream
	sink    PriceSink
	symbol  string
	metrics drepo.Metrics
	log     *applogger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPriceCollector(stream drepo.PriceStream, sink PriceSink, symbol string, metrics drepo.Metrics, log *applogger.Logger) *PriceCollector {
	return &PriceCollector{stream: stream, sink: sink, symbol: symbol, metrics: metrics, log: log.With("price-collector")}
}

// IsConnected returns true if the price stream is connected.
func (c *PriceCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects and subscribes, then consumes in the background until ctx ends.
func (c *PriceCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		_ = c.stream.Close()
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	return nil
}

func (c *PriceCollector) run(ctx context.Context) {
	for ctx.Err() == nil {
		ticks, errs := c.stream.Read(ctx)
		c.consume(ctx, ticks, errs)
		if ctx.Err() != nil {
			return
		}
		for ctx.Err() == nil {
			c.log.Warn("price stream dropped, reconnecting")
			err := c.stream.Reconnect(ctx)
			if err == nil {
				break
			}
			c.metrics.RecordError("stream")
			c.log.Error("price stream reconnect failed", applogger.Error(err))
		}
	}
}

// consume returns once the stream's channels close.
func (c *PriceCollector) consume(ctx context.Context, ticks <-chan models.PriceTick, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("price stream error", applogger.Error(err))
		case t, ok := <-ticks:
			if !ok {
				return
			}
			c.sink.Push(t)
			c.metrics.RecordLastPrice(c.symbol, t.Price)
		}
	}
}

// Shutdown closes the stream and waits for the consumer to exit.
func (c *PriceCollector) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	c.wg.Wait()
	return err
}
