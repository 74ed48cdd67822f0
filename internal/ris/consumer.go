package ris

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/asnwatch/trust-engine/internal/config"
	"github.com/asnwatch/trust-engine/internal/events"
	"github.com/asnwatch/trust-engine/internal/metrics"
)

// Sink receives flushed batches of parsed BGP events.
type Sink interface {
	InsertBGPEvents(ctx context.Context, evs []events.BGPEvent) error
}

// Consumer maintains a RIS Live websocket subscription and batches parsed
// updates into the event store. Batches flush on size or on a timer. A
// disconnect discards the in-flight batch; the stream is a live sample, not
// a replayable log, so losing a partial batch is acceptable.
type Consumer struct {
	cfg    config.StreamConfig
	sink   Sink
	logger *zap.Logger
}

func NewConsumer(cfg config.StreamConfig, sink Sink, logger *zap.Logger) *Consumer {
	return &Consumer{cfg: cfg, sink: sink, logger: logger}
}

type subscribeMsg struct {
	Type string        `json:"type"`
	Data subscribeData `json:"data"`
}

type subscribeData struct {
	Host    string `json:"host"`
	Type    string `json:"type"`
	Require string `json:"require"`
}

// Run connects, consumes and reconnects until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	delay := time.Duration(c.cfg.ReconnectDelaySeconds) * time.Second
	for {
		if err := c.consumeOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("stream session ended", zap.Error(err))
			metrics.StreamReconnectsTotal.Inc()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	sub := subscribeMsg{
		Type: "ris_subscribe",
		Data: subscribeData{
			Host:    c.cfg.CollectorHost,
			Type:    "UPDATE",
			Require: "announcements",
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("stream connected",
		zap.String("url", c.cfg.URL),
		zap.String("collector", c.cfg.CollectorHost),
	)

	// The read loop runs in its own goroutine so the batcher can honor the
	// flush timer and ctx cancellation while a read blocks.
	frames := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	var batch []events.BGPEvent
	ticker := time.NewTicker(time.Duration(c.cfg.FlushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.sink.InsertBGPEvents(ctx, batch); err != nil {
			c.logger.Error("batch flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case err := <-readErr:
			// Drop the partial batch with the session.
			return fmt.Errorf("read: %w", err)

		case raw, ok := <-frames:
			if !ok {
				return fmt.Errorf("read loop closed")
			}
			evs, err := ParseMessage(raw)
			if err != nil {
				metrics.StreamMessagesTotal.WithLabelValues("parse_error").Inc()
				c.logger.Debug("unparseable frame dropped", zap.Error(err))
				continue
			}
			if len(evs) == 0 {
				metrics.StreamMessagesTotal.WithLabelValues("skipped").Inc()
				continue
			}
			metrics.StreamMessagesTotal.WithLabelValues("ok").Inc()
			batch = append(batch, evs...)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// DecodeType peeks at a frame's type without full parsing. Used by the
// debug tap to label skipped frames.
func DecodeType(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Type
}
