package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

const (
	defaultDeepgramURL   = "wss://api.deepgram.com/v1/listen"
	defaultKeepAlive     = 8 * time.Second
	defaultConfidence    = 0.9
	audioBufferSize      = 256
	deepgramWriteTimeout = 5 * time.Second
)

// DeepgramConfig configures the Deepgram live streaming client.
type DeepgramConfig struct {
	APIKey    string
	Model     string
	Language  string
	BaseURL   string
	KeepAlive time.Duration
}

// Deepgram implements Provider over the Deepgram live websocket API.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer websocket.Dialer
	logger *slog.Logger
}

// NewDeepgram creates a Deepgram provider.
func NewDeepgram(cfg DeepgramConfig, logger *slog.Logger) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram API key is empty")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramURL
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deepgram{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// Name implements Provider.
func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) listenURL() string {
	params := url.Values{}
	params.Set("model", d.cfg.Model)
	params.Set("language", d.cfg.Language)
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	params.Set("interim_results", "true")
	params.Set("utterance_end_ms", "1000")
	params.Set("vad_events", "true")
	params.Set("filler_words", "false")
	params.Set("diarize", "true")
	return d.cfg.BaseURL + "?" + params.Encode()
}

// Open dials Deepgram and starts the reader and writer goroutines.
func (d *Deepgram) Open(ctx context.Context, sessionID string, onEvent EventFunc, onError ErrorFunc) (Stream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, d.listenURL(), headers)
	if err != nil {
		if resp != nil {
			d.logger.Error("Deepgram connection failed", "session_id", sessionID, "status", resp.StatusCode)
		}
		return nil, fmt.Errorf("connect to deepgram: %w", err)
	}
	d.logger.Info("Deepgram stream opened", "session_id", sessionID, "model", d.cfg.Model)

	s := &deepgramStream{
		sessionID: sessionID,
		conn:      conn,
		audio:     make(chan []byte, audioBufferSize),
		stop:      make(chan struct{}),
		keepAlive: d.cfg.KeepAlive,
		onEvent:   onEvent,
		onError:   onError,
		logger:    d.logger,
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

type deepgramStream struct {
	sessionID string
	conn      *websocket.Conn
	audio     chan []byte
	stop      chan struct{}
	keepAlive time.Duration
	onEvent   EventFunc
	onError   ErrorFunc
	logger    *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// SendAudio queues a chunk for the writer. A full buffer drops the chunk.
func (s *deepgramStream) SendAudio(chunk []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.audio <- chunk:
	default:
		s.logger.Warn("Audio buffer full, dropping chunk", "session_id", s.sessionID, "bytes", len(chunk))
	}
	return nil
}

// Close asks Deepgram to flush, then tears down the connection.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stop)
		// Give the reader a moment to receive the final results after CloseStream.
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
		err = s.conn.Close()
		<-done
		s.logger.Info("Deepgram stream closed", "session_id", s.sessionID)
	})
	return err
}

func (s *deepgramStream) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *deepgramStream) writeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			_ = s.writeControl(`{"type":"CloseStream"}`)
			return
		case chunk := <-s.audio:
			_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.fail(fmt.Errorf("send audio: %w", err))
				return
			}
		case <-ticker.C:
			if err := s.writeControl(`{"type":"KeepAlive"}`); err != nil {
				s.fail(fmt.Errorf("send keepalive: %w", err))
				return
			}
		}
	}
}

func (s *deepgramStream) writeControl(msg string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *deepgramStream) readLoop() {
	defer s.wg.Done()
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.fail(fmt.Errorf("read transcript: %w", err))
			}
			return
		}
		ev, ok, err := parseDeepgramMessage(message)
		if err != nil {
			s.logger.Warn("Ignoring malformed Deepgram message", "session_id", s.sessionID, "error", err)
			continue
		}
		if ok && s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

func (s *deepgramStream) fail(err error) {
	if s.isClosed() {
		return
	}
	s.logger.Error("Deepgram stream failed", "session_id", s.sessionID, "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

type deepgramMessage struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Channel struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence *float64 `json:"confidence"`
			Words      []struct {
				Speaker *int `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramMessage converts a Results message into a transcript event.
// Other message types and empty transcripts report ok=false.
func parseDeepgramMessage(data []byte) (domain.TranscriptEvent, bool, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.TranscriptEvent{}, false, err
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return domain.TranscriptEvent{}, false, nil
	}
	alt := msg.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return domain.TranscriptEvent{}, false, nil
	}

	ev := domain.TranscriptEvent{
		Text:       text,
		IsFinal:    msg.IsFinal,
		Timestamp:  msg.Start,
		Confidence: defaultConfidence,
	}
	if alt.Confidence != nil {
		ev.Confidence = *alt.Confidence
	}
	if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
		ev.SpeakerHint = "Speaker " + strconv.Itoa(*alt.Words[0].Speaker)
	}
	return ev, true, nil
}

var _ Provider = (*Deepgram)(nil)
