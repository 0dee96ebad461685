package objective

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/genvm/internal/types"
)

// ErrUnavailable is returned when the objective server cannot be reached
// or does not answer in time.
var ErrUnavailable = errors.New("objective server unavailable")

// Remote is a gvm.Objective evaluated by a Server. It is safe for
// concurrent use.
type Remote struct {
	config Config
	conn   *grpc.ClientConn
	calls  atomic.Uint64
}

// Dial connects to the server at cfg.Address. Extra options are appended
// to the defaults.
func Dial(cfg Config, extra ...grpc.DialOption) (*Remote, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			grpc.CallContentSubtype(codecName),
		),
	}

	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if token := cfg.ExpandedToken(); token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      token,
			requireTLS: cfg.UseTLS,
		}))
	}
	opts = append(opts, extra...)

	//nolint:staticcheck // Dial keeps compatibility with older gRPC versions
	conn, err := grpc.Dial(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial objective: %w", err)
	}
	return &Remote{config: cfg, conn: conn}, nil
}

// Evaluate implements gvm.Objective using the configured timeout.
func (r *Remote) Evaluate(x types.Vector) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()
	return r.EvaluateContext(ctx, x)
}

// EvaluateContext evaluates x, bounded by ctx.
func (r *Remote) EvaluateContext(ctx context.Context, x types.Vector) (float64, error) {
	resp := new(EvaluateResponse)
	if err := r.conn.Invoke(ctx, evaluateMethod, newRequest(x), resp); err != nil {
		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded:
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		default:
			return 0, fmt.Errorf("remote evaluate %s: %w", x, err)
		}
	}
	r.calls.Add(1)
	return float64(resp.F), nil
}

// Calls returns the number of successful remote evaluations.
func (r *Remote) Calls() uint64 {
	return r.calls.Load()
}

// Close closes the connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"x-token": t.token,
	}, nil
}

func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}
