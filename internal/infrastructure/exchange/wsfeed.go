package exchange

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dmik/perp_screener/internal/domain"
)

type wsState int

const (
	wsDisconnected wsState = iota
	wsConnecting
	wsSubscribing
	wsStreaming
)

const (
	reconnectBackoff = time.Second
	keepaliveEvery   = 20 * time.Second
	writeWait        = 5 * time.Second

	// Subscription requests are batched to respect per-request arg limits.
	subscribeChunkSize  = 10
	subscribeChunkDelay = 100 * time.Millisecond
)

// wsFeed drives one push connection through its reconnect state machine:
// Disconnected -> Connecting -> Subscribing -> Streaming, back to
// Disconnected on any failure, forever until the context is cancelled.
// The cancellation context is checked at every transition so a teardown
// never schedules another retry.
type wsFeed struct {
	name        string
	url         string
	pingMessage []byte // venue keepalive payload; nil means ws control ping

	subscribe func(ctx context.Context, conn *websocket.Conn) error
	handle    func(msg []byte)

	feeds  domain.FeedMonitor
	logger *zap.Logger
}

func (f *wsFeed) Run(ctx context.Context) {
	state := wsConnecting
	var conn *websocket.Conn

	for {
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		switch state {
		case wsDisconnected:
			f.feeds.SetHealthy(f.name, false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff):
			}
			state = wsConnecting

		case wsConnecting:
			c, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Warn("ws dial failed", zap.String("feed", f.name), zap.Error(err))
				}
				state = wsDisconnected
				continue
			}
			conn = c
			state = wsSubscribing

		case wsSubscribing:
			if err := f.subscribe(ctx, conn); err != nil {
				if ctx.Err() == nil {
					f.logger.Warn("ws subscribe failed", zap.String("feed", f.name), zap.Error(err))
				}
				conn.Close()
				conn = nil
				state = wsDisconnected
				continue
			}
			f.feeds.SetHealthy(f.name, true)
			f.logger.Info("ws streaming", zap.String("feed", f.name))
			state = wsStreaming

		case wsStreaming:
			f.stream(ctx, conn)
			conn.Close()
			conn = nil
			state = wsDisconnected
		}
	}
}

// stream reads until the connection breaks or the context is cancelled.
// A side goroutine owns all writes during streaming: keepalives on a fixed
// tick, plus closing the connection on cancellation to unblock ReadMessage.
func (f *wsFeed) stream(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(keepaliveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				var err error
				if f.pingMessage != nil {
					err = conn.WriteMessage(websocket.TextMessage, f.pingMessage)
				} else {
					err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				}
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("ws read failed", zap.String("feed", f.name), zap.Error(err))
			}
			return
		}
		f.handle(msg)
	}
}

// pollLoop runs one fixed-interval poll feed: an immediate poll, then one per
// tick. A failed poll flips the health flag and leaves previous data stale
// but present; the next tick retries.
func pollLoop(ctx context.Context, name string, every time.Duration, feeds domain.FeedMonitor, logger *zap.Logger, poll func(context.Context) error) {
	run := func() {
		if err := poll(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("poll failed", zap.String("feed", name), zap.Error(err))
			}
			feeds.SetHealthy(name, false)
			return
		}
		feeds.SetHealthy(name, true)
		feeds.StampUpdate(name)
	}

	run()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
