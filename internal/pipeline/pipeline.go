// Package pipeline turns polygon edits into solar estimates. Each Pipeline
// runs one event loop that debounces edits, validates the polygon, calls the
// estimate service and commits the newest result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/solarmap/internal/calcstate"
	"github.com/sells-group/solarmap/internal/debounce"
	"github.com/sells-group/solarmap/internal/geometry"
	"github.com/sells-group/solarmap/internal/monitoring"
	"github.com/sells-group/solarmap/pkg/pvwatts"
)

// DrawPrompt is the notice sent when an edit leaves no polygon to estimate.
const DrawPrompt = "Use the draw tools to draw a polygon!"

// DefaultFetchTimeout bounds a single estimate request.
const DefaultFetchTimeout = 30 * time.Second

// ErrStopped is returned by Submit once the event loop has exited.
var ErrStopped = eris.New("pipeline: stopped")

// Estimate is the observable calculation state.
type Estimate = calcstate.Result[pvwatts.Outputs]

// Validator converts a polygon into an estimate request.
type Validator interface {
	Validate(poly *geom.Polygon) (pvwatts.Request, error)
}

// EventType distinguishes subscriber events.
type EventType int

const (
	// EventState carries a new Estimate.
	EventState EventType = iota
	// EventNotice carries a message for the user that does not change state.
	EventNotice
)

// Event is pushed to subscribers.
type Event struct {
	Type   EventType
	State  Estimate
	Notice string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(p *Pipeline) {
		p.window = d
	}
}

// WithClock sets the time source for the debounce timer (for testing).
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = c
	}
}

// WithFetchTimeout bounds each estimate request.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger. It defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithStats records pipeline activity into c.
func WithStats(c *monitoring.Collector) Option {
	return func(p *Pipeline) {
		p.stats = c
	}
}

type editRequest struct {
	edit Edit
	done chan struct{}
}

type completion struct {
	seq  uint64
	resp *pvwatts.Response
	err  error
}

// Pipeline owns one calculation. All state changes happen on the goroutine
// running Run; other goroutines interact through Submit, Current and
// Subscribe.
type Pipeline struct {
	validator    Validator
	client       pvwatts.Client
	clock        clock.Clock
	window       time.Duration
	fetchTimeout time.Duration
	log          *zap.Logger
	stats        *monitoring.Collector

	// Loop-owned.
	sched   *debounce.Scheduler
	machine *calcstate.Machine[pvwatts.Outputs]

	edits       chan editRequest
	completions chan completion
	stopped     chan struct{}
	running     atomic.Bool
	fetches     sync.WaitGroup

	current atomic.Pointer[Estimate]

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// New creates a Pipeline in the Blank state. Call Run to start it.
func New(v Validator, client pvwatts.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		validator:    v,
		client:       client,
		clock:        clock.New(),
		window:       debounce.DefaultWindow,
		fetchTimeout: DefaultFetchTimeout,
		machine:      calcstate.NewMachine[pvwatts.Outputs](),
		edits:        make(chan editRequest),
		completions:  make(chan completion),
		stopped:      make(chan struct{}),
		subs:         make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.L().With(zap.String("component", "pipeline"))
	}
	p.sched = debounce.New(p.window, debounce.WithClock(p.clock))

	blank := p.machine.Current()
	p.current.Store(&blank)
	return p
}

// Run processes edits until ctx is cancelled. In-flight requests are
// cancelled and waited for before Run returns. Run may be called once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return eris.New("pipeline: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		p.sched.Cancel()
		p.fetches.Wait()
		close(p.stopped)
		p.closeSubscribers()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-p.edits:
			p.apply(ctx, req.edit)
			close(req.done)
		case <-p.sched.C():
			p.sched.Fire()
		case c := <-p.completions:
			p.commit(c)
		}
	}
}

// Submit hands an edit to the event loop and returns once it has been
// applied, so Current reflects it (Blank or Loading) on return.
func (p *Pipeline) Submit(ctx context.Context, e Edit) error {
	req := editRequest{edit: e, done: make(chan struct{})}

	select {
	case p.edits <- req:
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: submit edit")
	}

	select {
	case <-req.done:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "pipeline: wait for edit")
	}
}

// Current returns the latest published state.
func (p *Pipeline) Current() Estimate {
	return *p.current.Load()
}

// Subscribe returns a channel of state changes and notices, and a function
// that unsubscribes. Slow subscribers miss events rather than stalling the
// loop; Current always holds the latest state. The channel is closed when
// the pipeline stops or on unsubscribe.
func (p *Pipeline) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

func (p *Pipeline) apply(ctx context.Context, e Edit) {
	p.stats.EditReceived()

	if e.Kind == EditDelete {
		p.sched.Cancel()
		p.machine.Clear()
		p.stats.Cleared()
		p.log.Debug("pipeline: polygon deleted", zap.Uint64("seq", p.machine.Seq()))
		p.publish()
		return
	}

	poly := geometry.FromFeatureCollection(e.Features)
	if poly == nil {
		p.sched.Cancel()
		p.machine.Clear()
		p.stats.EmptyEdit()
		p.log.Debug("pipeline: edit has no polygon", zap.Stringer("kind", e.Kind))
		p.publish()
		p.notify(DrawPrompt)
		return
	}

	seq := p.machine.Begin()
	p.stats.RunAccepted()
	p.publish()
	p.sched.Schedule(func() {
		p.fire(ctx, seq, poly)
	})
}

// fire runs on the loop when the debounce window closes.
func (p *Pipeline) fire(ctx context.Context, seq uint64, poly *geom.Polygon) {
	p.stats.RunFired()
	log := p.log.With(zap.Uint64("seq", seq))

	req, err := p.validator.Validate(poly)
	if err != nil {
		log.Info("pipeline: polygon rejected", zap.Error(err))
		if p.machine.Fail(seq, err.Error()) {
			p.stats.RunFailed(monitoring.FailureValidation)
			p.publish()
		}
		return
	}

	log.Debug("pipeline: requesting estimate",
		zap.Float64("capacity_kw", req.SystemCapacityKW),
		zap.Float64("lat", req.Lat),
		zap.Float64("lon", req.Lon),
	)

	p.fetches.Add(1)
	go func() {
		defer p.fetches.Done()

		fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()

		resp, fetchErr := p.client.FetchEstimate(fetchCtx, req)

		select {
		case p.completions <- completion{seq: seq, resp: resp, err: fetchErr}:
		case <-ctx.Done():
		}
	}()
}

// commit applies a finished request if its run is still the current one.
func (p *Pipeline) commit(c completion) {
	log := p.log.With(zap.Uint64("seq", c.seq))

	var (
		committed bool
		failure   monitoring.FailureKind
		failed    bool
	)

	switch {
	case c.err != nil || c.resp == nil || (!c.resp.HasErrors() && c.resp.Outputs == nil):
		committed, failed, failure = p.machine.Fail(c.seq, transportMessage(c.err)), true, monitoring.FailureTransport
		if committed {
			log.Warn("pipeline: estimate request failed", zap.Error(c.err))
		}
	case c.resp.HasErrors():
		committed, failed, failure = p.machine.Fail(c.seq, strings.Join(c.resp.Errors, "\n")), true, monitoring.FailureDomain
		if committed {
			log.Info("pipeline: estimate service rejected request", zap.Strings("errors", c.resp.Errors))
		}
	default:
		committed = p.machine.Succeed(c.seq, c.resp.Outputs)
		if committed {
			log.Debug("pipeline: estimate ready", zap.Float64("ac_annual", c.resp.Outputs.ACAnnual))
		}
	}

	if !committed {
		p.stats.StaleDiscarded()
		log.Debug("pipeline: discarded stale result", zap.Uint64("current_seq", p.machine.Seq()))
		return
	}

	if failed {
		p.stats.RunFailed(failure)
	} else {
		p.stats.RunSucceeded()
	}
	p.publish()
}

func (p *Pipeline) publish() {
	state := p.machine.Current()
	p.current.Store(&state)
	p.broadcast(Event{Type: EventState, State: state})
}

func (p *Pipeline) notify(msg string) {
	p.broadcast(Event{Type: EventNotice, Notice: msg, State: p.machine.Current()})
}

func (p *Pipeline) broadcast(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (p *Pipeline) closeSubscribers() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}

// transportMessage returns a short user-facing description of a failed
// request. Only the HTTP status is exposed; other failures get the generic
// text and are logged.
func transportMessage(err error) string {
	var te *pvwatts.TransportError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return fmt.Sprintf("estimate service unavailable (status %d)", te.StatusCode)
	}
	return ""
}
