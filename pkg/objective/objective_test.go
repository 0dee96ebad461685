package objective

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

func TestTableMinimaAtTargets(t *testing.T) {
	for i := 0; i < NumTableFunctions; i++ {
		fn := Table{Index: i}
		target := fn.Target()
		f, err := fn.Evaluate(target)
		if err != nil {
			t.Fatalf("%v: Evaluate() failed: %v", fn, err)
		}
		if f != 0 {
			t.Errorf("%v: f(%v) = %g, want 0", fn, target, f)
		}
		for _, d := range []types.Vector{types.Vec(0.1, 0), types.Vec(0, -0.1), types.Vec(0.3, 0.3)} {
			g, _ := fn.Evaluate(target.Add(d))
			if g <= 0 {
				t.Errorf("%v: f(%v) = %g, want > 0", fn, target.Add(d), g)
			}
		}
	}
}

func TestTableIndexWraps(t *testing.T) {
	if (Table{Index: 6}).Target() != (Table{Index: 2}).Target() {
		t.Error("Table index 6 does not select function 2")
	}
	if (Table{Index: -4}).Target() != (Table{Index: 0}).Target() {
		t.Error("negative Table index does not wrap")
	}
	if got := (Table{Index: 5}).String(); got != "table[1] rozen" {
		t.Errorf("String() = %q", got)
	}
}

func TestCounting(t *testing.T) {
	c := NewCounting(Func(func(x types.Vector) float64 { return x.Norm() }))
	for i := 0; i < 3; i++ {
		if _, err := c.Evaluate(types.Vec(1, 1)); err != nil {
			t.Fatalf("Evaluate() failed: %v", err)
		}
	}
	if c.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", c.Calls())
	}
}

func TestCountingDrivesMachine(t *testing.T) {
	c := NewCounting(Table{Index: 3})
	cfg := gvm.DefaultConfig()
	cfg.Seed = 7
	m := gvm.New(cfg)
	m.SetObjective(c)
	m.Load([]byte{byte(gvm.OpVLess), 1})
	if err := m.Run(1); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if c.Calls() != m.Evals() {
		t.Errorf("Calls() = %d, machine Evals() = %d", c.Calls(), m.Evals())
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrNoAddress) {
		t.Errorf("Validate() = %v, want ErrNoAddress", err)
	}
	cfg.Address = "localhost:0"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	cfg.Timeout = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
	}

	zero := Config{Address: "x"}.WithDefaults()
	if zero.Timeout != DefaultTimeout || zero.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("WithDefaults() = %+v", zero)
	}
}

func TestExpandedToken(t *testing.T) {
	t.Setenv("GENVM_TEST_TOKEN", "abc")
	cfg := Config{Token: "tok-${GENVM_TEST_TOKEN}"}
	if got := cfg.ExpandedToken(); got != "tok-abc" {
		t.Errorf("ExpandedToken() = %q", got)
	}
}

// startServer serves obj over an in-memory listener.
func startServer(t *testing.T, cfg Config, obj gvm.Objective) (*Server, *bufconn.Listener) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(cfg, obj, nil)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return srv, lis
}

func dialBuf(t *testing.T, cfg Config, lis *bufconn.Listener) *Remote {
	t.Helper()
	cfg.Address = "bufnet"
	r, err := Dial(cfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRemoteEvaluate(t *testing.T) {
	fn := Table{Index: 0}
	srv, lis := startServer(t, DefaultConfig(), fn)
	r := dialBuf(t, DefaultConfig(), lis)

	for _, x := range []types.Vector{types.Vec(0, 0), types.Vec(1, 1), types.Vec(-0.75, 2.5)} {
		got, err := r.Evaluate(x)
		if err != nil {
			t.Fatalf("Evaluate(%v) failed: %v", x, err)
		}
		want, _ := fn.Evaluate(x)
		if got != want {
			t.Errorf("Evaluate(%v) = %g, want %g", x, got, want)
		}
	}
	if r.Calls() != 3 || srv.Served() != 3 {
		t.Errorf("calls=%d served=%d, want 3", r.Calls(), srv.Served())
	}
}

func TestRemoteNonFinite(t *testing.T) {
	_, lis := startServer(t, DefaultConfig(), Func(func(x types.Vector) float64 {
		if x[0] > 0 {
			return math.Inf(1)
		}
		return math.NaN()
	}))
	r := dialBuf(t, DefaultConfig(), lis)

	f, err := r.Evaluate(types.Vec(-1, 0))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !math.IsNaN(f) {
		t.Errorf("Evaluate() = %g, want NaN", f)
	}
	f, err = r.Evaluate(types.Vec(math.Inf(1), 0))
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if !math.IsInf(f, 1) {
		t.Errorf("Evaluate() = %g, want +Inf", f)
	}
}

type brokenObjective struct{}

func (brokenObjective) Evaluate(types.Vector) (float64, error) {
	return 0, errors.New("simulation diverged")
}

func TestRemoteObjectiveError(t *testing.T) {
	_, lis := startServer(t, DefaultConfig(), brokenObjective{})
	r := dialBuf(t, DefaultConfig(), lis)

	_, err := r.Evaluate(types.Vec(0, 0))
	if err == nil {
		t.Fatal("Evaluate() succeeded")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("objective failure reported as unavailable: %v", err)
	}
	if status.Code(errors.Unwrap(err)) != codes.Internal {
		t.Errorf("status = %v, want Internal", status.Code(errors.Unwrap(err)))
	}
}

func TestRemoteToken(t *testing.T) {
	srvCfg := DefaultConfig()
	srvCfg.Token = "secret"
	_, lis := startServer(t, srvCfg, Table{Index: 3})

	anon := dialBuf(t, DefaultConfig(), lis)
	_, err := anon.Evaluate(types.Vec(1, 0))
	if status.Code(errors.Unwrap(err)) != codes.Unauthenticated {
		t.Errorf("anonymous Evaluate() = %v, want Unauthenticated", err)
	}

	cliCfg := DefaultConfig()
	cliCfg.Token = "secret"
	authed := dialBuf(t, cliCfg, lis)
	if f, err := authed.Evaluate(types.Vec(1, 0)); err != nil || f != 1 {
		t.Errorf("Evaluate() = %g, %v, want 1, nil", f, err)
	}
}

func TestRemoteUnavailable(t *testing.T) {
	srv, lis := startServer(t, DefaultConfig(), Table{})
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	r := dialBuf(t, cfg, lis)
	srv.Stop()
	lis.Close()

	_, err := r.Evaluate(types.Vec(0, 0))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Evaluate() = %v, want ErrUnavailable", err)
	}
}

func TestRemoteDrivesMachine(t *testing.T) {
	_, lis := startServer(t, DefaultConfig(), Table{Index: 3})
	r := dialBuf(t, DefaultConfig(), lis)

	cfg := gvm.DefaultConfig()
	cfg.Seed = 3
	m := gvm.New(cfg)
	m.SetObjective(r)
	m.SetVecReg(1, types.Vec(0.5, 0))
	m.SetVecAccum(types.Vec(2, 0))
	m.Load([]byte{byte(gvm.OpVLess), 1})
	if err := m.Step(); err != nil {
		t.Fatalf("Step() failed: %v", err)
	}
	if m.Flag() {
		t.Error("flag set, want false (4 < 0.25)")
	}
	if r.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", r.Calls())
	}
}
