package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	outboundQueueSize = 128
	writeTimeout      = 5 * time.Second
)

// connWriter serializes frames to one websocket from a background goroutine
// so that producers never block on a slow client.
type connWriter struct {
	conn      *websocket.Conn
	connID    string
	frames    chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	closeOnce sync.Once
}

func newConnWriter(conn *websocket.Conn, connID string, logger *slog.Logger) *connWriter {
	ctx, cancel := context.WithCancel(context.Background())
	w := &connWriter{
		conn:   conn,
		connID: connID,
		frames: make(chan []byte, outboundQueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	w.wg.Add(1)
	go w.process()
	return w
}

// enqueue queues a frame, dropping the oldest queued frame when full.
func (w *connWriter) enqueue(frame []byte) {
	if w.ctx.Err() != nil {
		return
	}
	select {
	case w.frames <- frame:
		return
	default:
	}

	w.logger.Warn("Outbound queue full, dropping oldest frame", "connection_id", w.connID)
	select {
	case <-w.frames:
	default:
	}
	select {
	case w.frames <- frame:
	default:
		w.logger.Warn("Failed to queue frame after backpressure", "connection_id", w.connID)
	}
}

func (w *connWriter) process() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case frame := <-w.frames:
			ctx, cancel := context.WithTimeout(w.ctx, writeTimeout)
			err := w.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if w.ctx.Err() == nil {
					w.logger.Debug("WebSocket write error", "connection_id", w.connID, "error", err)
				}
				return
			}
		}
	}
}

// flush waits until queued frames are written or the timeout elapses.
func (w *connWriter) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(w.frames) > 0 && time.Now().Before(deadline) && w.ctx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
}

func (w *connWriter) close() {
	w.closeOnce.Do(func() {
		w.cancel()
		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(writeTimeout):
			w.logger.Warn("Outbound writer shutdown timeout", "connection_id", w.connID)
		}
	})
}
