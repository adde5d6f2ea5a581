package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/middleware"
	"github.com/worldwidesoldier/sales-coach-ai/internal/session"
	"github.com/worldwidesoldier/sales-coach-ai/internal/transcribe"
)

const (
	// EventConnectionEstablished greets a new connection with its id.
	EventConnectionEstablished = "connection_established"
	// EventPong answers a client ping.
	EventPong = "pong"

	readLimit         = 1 << 20
	disconnectTimeout = 10 * time.Second
)

// Sessions is the part of the session manager the gateway drives.
type Sessions interface {
	StartSession(ctx context.Context, connID string) (string, error)
	EndSession(ctx context.Context, sessionID string) (*domain.Call, error)
	HandleTranscriptEvent(sessionID string, ev domain.TranscriptEvent) error
	SendAudio(connID string, chunk []byte) error
	OnTransportDisconnect(ctx context.Context, connID string)
	SessionForConnection(connID string) (string, bool)
}

// Handler serves the live call WebSocket.
type Handler struct {
	sessions       Sessions
	hub            *Hub
	audioLimiter   *middleware.RateLimiter
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler creates a WebSocket handler. audioLimiter may be nil.
func NewHandler(sessions Sessions, hub *Hub, audioLimiter *middleware.RateLimiter, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:       sessions,
		hub:            hub,
		audioLimiter:   audioLimiter,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// clientMessage is a text frame sent by the call client.
type clientMessage struct {
	Type       string  `json:"type"`
	Audio      string  `json:"audio,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}

type connectionData struct {
	ConnectionID string    `json:"connection_id"`
	Timestamp    time.Time `json:"timestamp"`
}

type pongData struct {
	Timestamp time.Time `json:"timestamp"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(readLimit)

	connID := uuid.NewString()
	h.logger.Info("Call WebSocket connected", "connection_id", connID, "ip", r.RemoteAddr)

	h.hub.Register(connID, ws)
	h.hub.Deliver(connID, session.Event{Type: EventConnectionEstablished, Data: connectionData{
		ConnectionID: connID,
		Timestamp:    time.Now(),
	}})

	ctx, cancel := context.WithCancel(r.Context())
	h.readLoop(ctx, ws, connID)
	cancel()

	h.hub.Unregister(connID)
	if h.audioLimiter != nil {
		h.audioLimiter.Forget(connID)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer dcancel()
	h.sessions.OnTransportDisconnect(dctx, connID)
	h.logger.Info("Call WebSocket disconnected", "connection_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, connID string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "connection_id", connID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "connection_id", connID)
			}
			return
		}

		if typ == websocket.MessageBinary {
			h.handleAudio(connID, data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(connID, "", "Invalid message format")
			continue
		}
		h.dispatch(ctx, connID, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, connID string, msg clientMessage) {
	switch msg.Type {
	case "start_call":
		if _, err := h.sessions.StartSession(ctx, connID); err != nil {
			h.logger.Warn("Failed to start call", "connection_id", connID, "error", err)
			if errors.Is(err, session.ErrCallActive) {
				h.sendError(connID, "", "A call is already active on this connection")
				return
			}
			h.sendError(connID, "", "Failed to start call")
		}

	case "end_call":
		id, ok := h.sessions.SessionForConnection(connID)
		if !ok {
			h.sendError(connID, "", "No active call")
			return
		}
		if _, err := h.sessions.EndSession(ctx, id); err != nil {
			h.logger.Error("Call ended with error", "session_id", id, "error", err)
			h.sendError(connID, id, "Call ended but could not be saved")
		}

	case "audio":
		chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			h.sendError(connID, "", "Invalid audio encoding")
			return
		}
		h.handleAudio(connID, chunk)

	case "transcript":
		id, ok := h.sessions.SessionForConnection(connID)
		if !ok {
			h.logger.Debug("Transcript without active call", "connection_id", connID)
			return
		}
		ev := domain.TranscriptEvent{
			Text:        msg.Text,
			IsFinal:     msg.IsFinal,
			SpeakerHint: msg.Speaker,
			Timestamp:   msg.Timestamp,
			Confidence:  msg.Confidence,
		}
		if err := h.sessions.HandleTranscriptEvent(id, ev); err != nil {
			h.logger.Debug("Transcript dropped", "session_id", id, "error", err)
		}

	case "ping":
		h.hub.Deliver(connID, session.Event{Type: EventPong, Data: pongData{Timestamp: time.Now()}})

	default:
		h.sendError(connID, "", "Unknown message type: "+msg.Type)
	}
}

func (h *Handler) handleAudio(connID string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if h.audioLimiter != nil && !h.audioLimiter.Allow(connID) {
		h.logger.Debug("Audio chunk rate limited", "connection_id", connID)
		return
	}
	err := h.sessions.SendAudio(connID, chunk)
	switch {
	case err == nil:
	case errors.Is(err, transcribe.ErrDisabled), errors.Is(err, session.ErrSessionNotFound):
		h.logger.Debug("Audio dropped", "connection_id", connID, "error", err)
	default:
		h.logger.Warn("Failed to forward audio", "connection_id", connID, "error", err)
	}
}

func (h *Handler) sendError(connID, sessionID, message string) {
	h.hub.Deliver(connID, session.Event{Type: session.EventError, Data: session.ErrorData{
		SessionID: sessionID,
		Message:   message,
	}})
}
