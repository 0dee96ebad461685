package objective

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

// Pool errors.
var (
	ErrNoHealthyServers = errors.New("no healthy objective servers")
	ErrPoolClosed       = errors.New("objective pool is closed")
)

// Default pool settings.
const (
	DefaultProbePeriod = 10 * time.Second
	DefaultMaxFailures = 3
)

// contextObjective is implemented by objectives that accept a deadline,
// such as Remote.
type contextObjective interface {
	EvaluateContext(ctx context.Context, x types.Vector) (float64, error)
}

// member is one objective in a Pool.
type member struct {
	name      string
	obj       gvm.Objective
	healthy   atomic.Bool
	calls     atomic.Uint64
	lastCheck atomic.Int64 // Unix nano timestamp
	failCount atomic.Int32
}

// Pool spreads evaluations over several objectives, usually Remotes
// serving the same function. Calls are assigned round-robin among healthy
// members. A member that reports ErrUnavailable MaxFailures times in a row
// is taken out of rotation until a probe evaluation succeeds again.
//
// Other evaluation errors are returned to the caller unchanged and do not
// affect member health.
type Pool struct {
	members []*member
	mu      sync.RWMutex

	nextIndex atomic.Uint64

	// MaxFailures is the number of consecutive unavailable errors before a
	// member is marked unhealthy.
	MaxFailures int32

	// ProbePeriod is the interval between probes of unhealthy members.
	ProbePeriod time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// Probe is the point evaluated to check an unhealthy member.
	Probe types.Vector

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	onHealthChange func(name string, healthy bool)
}

// NewPool creates an empty pool. Members are added with Add.
func NewPool() *Pool {
	return &Pool{
		MaxFailures:  DefaultMaxFailures,
		ProbePeriod:  DefaultProbePeriod,
		ProbeTimeout: DefaultTimeout,
	}
}

// SetOnHealthChange sets a callback invoked when a member changes health.
// Must be called before the pool is used.
func (p *Pool) SetOnHealthChange(callback func(name string, healthy bool)) {
	p.onHealthChange = callback
}

// Add adds obj under name. Members start healthy. Adding a name twice is a
// no-op.
func (p *Pool) Add(name string, obj gvm.Objective) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.members {
		if m.name == name {
			return
		}
	}
	m := &member{name: name, obj: obj}
	m.healthy.Store(true)
	p.members = append(p.members, m)
}

// Evaluate implements gvm.Objective. When the chosen member is unavailable
// the call is retried on the next healthy member.
func (p *Pool) Evaluate(x types.Vector) (float64, error) {
	if p.closed.Load() {
		return 0, ErrPoolClosed
	}

	var lastErr error
	for attempt := 0; attempt < p.Size(); attempt++ {
		m, err := p.pick()
		if err != nil {
			break
		}
		f, err := m.obj.Evaluate(x)
		if err == nil {
			m.failCount.Store(0)
			m.calls.Add(1)
			return f, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return 0, err
		}
		p.fail(m)
		lastErr = err
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoHealthyServers, lastErr)
	}
	return 0, ErrNoHealthyServers
}

// pick returns the next healthy member round-robin.
func (p *Pool) pick() (*member, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var healthy []*member
	for _, m := range p.members {
		if m.healthy.Load() {
			healthy = append(healthy, m)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthyServers
	}
	idx := (p.nextIndex.Add(1) - 1) % uint64(len(healthy))
	return healthy[idx], nil
}

func (p *Pool) fail(m *member) {
	if m.failCount.Add(1) < p.MaxFailures {
		return
	}
	if m.healthy.Swap(false) && p.onHealthChange != nil {
		p.onHealthChange(m.name, false)
	}
}

// HealthyCount returns the number of healthy members.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, m := range p.members {
		if m.healthy.Load() {
			count++
		}
	}
	return count
}

// Size returns the number of members.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Start begins probing unhealthy members every ProbePeriod until ctx is
// cancelled or Close is called.
func (p *Pool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.probeLoop()
}

// Close stops probing and closes every member that has a Close method.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.RLock()
	defer p.mu.RUnlock()
	var errs []error
	for _, m := range p.members {
		if c, ok := m.obj.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) probeLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.ProbePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.ProbeUnhealthy()
		}
	}
}

// ProbeUnhealthy evaluates the probe point on every unhealthy member
// concurrently and returns those that answer to rotation.
func (p *Pool) ProbeUnhealthy() {
	p.mu.RLock()
	var down []*member
	for _, m := range p.members {
		if !m.healthy.Load() {
			down = append(down, m)
		}
	}
	p.mu.RUnlock()

	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var wg sync.WaitGroup
	for _, m := range down {
		wg.Add(1)
		go func(m *member) {
			defer wg.Done()
			p.probe(ctx, m)
		}(m)
	}
	wg.Wait()
}

func (p *Pool) probe(ctx context.Context, m *member) {
	m.lastCheck.Store(time.Now().UnixNano())

	var err error
	if co, ok := m.obj.(contextObjective); ok {
		ctx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
		_, err = co.EvaluateContext(ctx, p.Probe)
		cancel()
	} else {
		_, err = m.obj.Evaluate(p.Probe)
	}
	if err != nil {
		return
	}
	m.failCount.Store(0)
	if !m.healthy.Swap(true) && p.onHealthChange != nil {
		p.onHealthChange(m.name, true)
	}
}

// MemberStatus returns the status of every member.
func (p *Pool) MemberStatus() []MemberInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]MemberInfo, len(p.members))
	for i, m := range p.members {
		infos[i] = MemberInfo{
			Name:      m.name,
			Healthy:   m.healthy.Load(),
			Calls:     m.calls.Load(),
			FailCount: int(m.failCount.Load()),
		}
		if t := m.lastCheck.Load(); t != 0 {
			infos[i].LastCheck = time.Unix(0, t)
		}
	}
	return infos
}

// MemberInfo contains status information about a pool member.
type MemberInfo struct {
	Name      string
	Healthy   bool
	Calls     uint64
	LastCheck time.Time
	FailCount int
}
