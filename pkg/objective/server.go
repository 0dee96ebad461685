package objective

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/genvm/pkg/gvm"
)

const (
	serviceName    = "genvm.Objective"
	evaluateMethod = "/" + serviceName + "/Evaluate"
)

// evaluator is the handler type checked by grpc.Server.RegisterService.
type evaluator interface {
	evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*evaluator)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "genvm/objective",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EvaluateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(evaluator).evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(evaluator).evaluate(ctx, req.(*EvaluateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Server exposes a local objective over gRPC.
type Server struct {
	config Config
	obj    gvm.Objective
	log    logrus.FieldLogger
	grpc   *grpc.Server
	served atomic.Uint64
}

// NewServer creates a server for obj. Only Address, Token, keepalive and
// MaxMessageSize are used from cfg.
func NewServer(cfg Config, obj gvm.Objective, log logrus.FieldLogger) *Server {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		config: cfg,
		obj:    obj,
		log:    log.WithField("component", "objective-server"),
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.WithField("address", lis.Addr().String()).Info("Serving objective")
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()
	return s.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// Served returns the number of evaluations answered.
func (s *Server) Served() uint64 {
	return s.served.Load()
}

func (s *Server) evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	x := req.vector()
	f, err := s.obj.Evaluate(x)
	if err != nil {
		s.log.WithError(err).WithField("x", x.String()).Warn("Objective evaluation failed")
		return nil, status.Errorf(codes.Internal, "evaluate %s: %v", x, err)
	}
	s.served.Add(1)
	return &EvaluateResponse{F: wireFloat(f)}, nil
}

func (s *Server) authorize(ctx context.Context) error {
	want := s.config.ExpandedToken()
	if want == "" {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, got := range md.Get("x-token") {
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1 {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "missing or invalid x-token")
}
