package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Sidecar RPCs exchange google.protobuf.Struct messages.
const (
	suggestMethod = "/salescoach.v1.CoachService/Suggest"
	analyzeMethod = "/salescoach.v1.CoachService/Analyze"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClient talks to a suggestion sidecar over gRPC.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the sidecar and waits until the channel is ready.
func NewGrpcClient(addr string, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coach sidecar at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("coach sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to coach sidecar", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

// Healthy reports whether the channel is usable.
func (c *GrpcClient) Healthy(_ context.Context) bool {
	state := c.conn.GetState()
	return state != connectivity.Shutdown && state != connectivity.TransientFailure
}

// Suggest implements Generator.
func (c *GrpcClient) Suggest(ctx context.Context, req SuggestRequest) ([]byte, error) {
	in, err := structpb.NewStruct(map[string]any{
		"session_id": req.SessionID,
		"mode":       string(req.Mode),
		"turns":      turnsValue(req.Turns),
		"stage": map[string]any{
			"stage":          string(req.Stage.Stage),
			"confidence":     req.Stage.Confidence,
			"turns_in_stage": req.Stage.TurnsInStage,
		},
		"objectives": map[string]any{
			"completed": stringsValue(objectiveIDs(req.Objectives.Completed)),
			"remaining": stringsValue(objectiveIDs(req.Objectives.Remaining)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build suggest request: %w", err)
	}

	c.logger.Debug("Requesting suggestion via gRPC", "session_id", req.SessionID, "turns", len(req.Turns))
	return c.invoke(ctx, suggestMethod, in)
}

// Analyze implements Generator.
func (c *GrpcClient) Analyze(ctx context.Context, req AnalyzeRequest) ([]byte, error) {
	in, err := structpb.NewStruct(map[string]any{
		"call_id":          req.CallID,
		"turns":            turnsValue(req.Turns),
		"duration_seconds": req.DurationSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	return c.invoke(ctx, analyzeMethod, in)
}

func (c *GrpcClient) invoke(ctx context.Context, method string, in *structpb.Struct) ([]byte, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	data, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", method, err)
	}
	return data, nil
}

func turnsValue(turns []Turn) []any {
	out := make([]any, len(turns))
	for i, t := range turns {
		out[i] = map[string]any{"speaker": string(t.Speaker), "text": t.Text}
	}
	return out
}

func stringsValue(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
