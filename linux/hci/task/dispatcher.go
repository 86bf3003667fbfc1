// Package task runs the single loop that owns the upper layers of the stack:
// it routes tagged messages to the protocol layers and counts down the
// coarse and fine timer queues.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/timer"
)

var (
	// ErrClosed is returned once the dispatcher has shut down.
	ErrClosed = errors.New("dispatcher closed")
	// ErrRunning is returned by Run when the loop is already running.
	ErrRunning = errors.New("dispatcher already running")
)

const (
	DefaultTickPeriod      = time.Second
	DefaultQuickTickPeriod = 100 * time.Millisecond
	DefaultMailboxSize     = 64
	DefaultEventCapacity   = 6
	DefaultTimerCapacity   = 2
)

const (
	stateIdle int32 = iota
	stateAwaitingStart
	stateRunning
	stateTerminated
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTickPeriod sets the coarse tick period.
func WithTickPeriod(d time.Duration) Option {
	return func(t *Dispatcher) { t.period = d }
}

// WithQuickTickPeriod sets the fine tick period. Zero disables the fine domain.
func WithQuickTickPeriod(d time.Duration) Option {
	return func(t *Dispatcher) { t.quickPeriod = d }
}

// WithMailboxSize sets the mailbox depth.
func WithMailboxSize(n int) Option {
	return func(t *Dispatcher) { t.mailboxSize = n }
}

// WithRegistryCapacity sets the number of event range and timer registrations.
func WithRegistryCapacity(events, timers int) Option {
	return func(t *Dispatcher) {
		t.events = newEventRegistry(events)
		t.timers = newTimerRegistry(timers)
	}
}

// WithPreloadGate holds the loop after Run until Start is called.
func WithPreloadGate() Option {
	return func(t *Dispatcher) { t.gate = make(chan struct{}) }
}

// WithTicks replaces the coarse and fine tick sources.
func WithTicks(coarse, fine TickSource) Option {
	return func(t *Dispatcher) {
		if coarse != nil {
			t.ticks = coarse
		}
		if fine != nil {
			t.quickTicks = fine
		}
	}
}

// WithPool sets the pool messages are drawn from.
func WithPool(p *Pool) Option {
	return func(t *Dispatcher) { t.pool = p }
}

// WithLogger sets the logger.
func WithLogger(l blehost.Logger) Option {
	return func(t *Dispatcher) { t.log = l }
}

// Stats counts what the loop did.
type Stats struct {
	Routed        int64
	Dropped       int64
	TimersFired   int64
	TimersDropped int64
}

type route struct {
	desc    string
	own     Ownership
	handler func(*Message)
}

type timerReq struct {
	e     *timer.Entry
	typ   timer.Type
	ticks int
}

// Dispatcher is the stack's execution context. Layers and timer callbacks
// run on the goroutine that called Run and never concurrently.
type Dispatcher struct {
	layers Layers
	routes map[Tag]route
	pool   *Pool
	log    blehost.Logger

	mailboxSize int
	mailbox     chan *Message
	backlog     []*Message

	period      time.Duration
	quickPeriod time.Duration
	coarse      *timer.Queue
	fine        *timer.Queue
	ticks       TickSource
	quickTicks  TickSource

	events *eventRegistry
	timers *timerRegistry

	gate      chan struct{}
	gateOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	// postMu is held shared by senders and exclusively by shutdown, so
	// nothing lands in the mailbox once it was emptied.
	postMu sync.RWMutex
	state     atomic.Int32
	loopID    atomic.Uint64

	routed        *xsync.Counter
	dropped       *xsync.Counter
	timersFired   *xsync.Counter
	timersDropped *xsync.Counter
}

// New returns a dispatcher feeding layers. It does nothing until Run.
func New(layers Layers, opts ...Option) *Dispatcher {
	if layers == nil {
		layers = NopLayers{}
	}
	d := &Dispatcher{
		layers:        layers,
		period:        DefaultTickPeriod,
		quickPeriod:   DefaultQuickTickPeriod,
		mailboxSize:   DefaultMailboxSize,
		coarse:        timer.NewQueue("coarse"),
		fine:          timer.NewQueue("fine"),
		ticks:         NewTicker(),
		quickTicks:    NewTicker(),
		events:        newEventRegistry(DefaultEventCapacity),
		timers:        newTimerRegistry(DefaultTimerCapacity),
		done:          make(chan struct{}),
		routed:        xsync.NewCounter(),
		dropped:       xsync.NewCounter(),
		timersFired:   xsync.NewCounter(),
		timersDropped: xsync.NewCounter(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = blehost.GetLogger()
	}
	d.log = d.log.ChildLogger(map[string]interface{}{"pkg": "task"})
	if d.pool == nil {
		d.pool = NewPool(d.log)
	}
	if d.mailboxSize < 1 {
		d.mailboxSize = 1
	}
	d.mailbox = make(chan *Message, d.mailboxSize)

	d.routes = map[Tag]route{
		TagHCIEvent:        {"hci event", Borrow, layers.HandleEvent},
		TagACLData:         {"acl data", Consume, layers.HandleACL},
		TagSCOData:         {"sco data", Borrow, layers.HandleSCO},
		TagHCICommand:      {"hci command", Consume, layers.SendCommand},
		TagSegmentsSent:    {"segments sent", Borrow, layers.SegmentsSent},
		TagStartTimer:      {"start timer", Borrow, d.onStartTimer},
		TagStopTimer:       {"stop timer", Borrow, d.onStopTimer},
		TagStartQuickTimer: {"start quick timer", Borrow, d.onStartQuickTimer},
		TagStopQuickTimer:  {"stop quick timer", Borrow, d.onStopQuickTimer},
		TagContextSwitch:   {"context switch", Borrow, d.onContextSwitch},
	}
	return d
}

// Pool returns the pool messages should be drawn from.
func (d *Dispatcher) Pool() *Pool {
	return d.pool
}

// Run executes the loop until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(stateIdle, stateAwaitingStart) {
		if d.state.Load() == stateTerminated {
			return ErrClosed
		}
		return ErrRunning
	}
	d.loopID.Store(goid())
	defer d.shutdown()

	if d.gate != nil {
		d.log.Debug("awaiting start")
		select {
		case <-d.gate:
		case <-d.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.state.Store(stateRunning)
	// timers armed before the loop started
	d.syncTicks()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case m := <-d.mailbox:
			d.route(m)
			d.drain()
		case <-d.ticks.C():
			d.tick()
		case <-d.quickTicks.C():
			d.quickTick()
		}
	}
}

// Start releases a loop held by WithPreloadGate.
func (d *Dispatcher) Start() {
	if d.gate != nil {
		d.gateOnce.Do(func() { close(d.gate) })
	}
}

// Close terminates the loop. It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}

// Done is closed when the dispatcher is closed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// OnLoop reports whether the caller runs on the loop goroutine.
func (d *Dispatcher) OnLoop() bool {
	id := d.loopID.Load()
	return id != 0 && d.state.Load() == stateRunning && goid() == id
}

// Post hands m to the loop. The loop owns m afterwards, even on error.
func (d *Dispatcher) Post(m *Message) error {
	if m == nil {
		return nil
	}
	d.postMu.RLock()
	defer d.postMu.RUnlock()
	select {
	case <-d.done:
		m.Free()
		return ErrClosed
	default:
	}

	if d.OnLoop() {
		d.postLocal(m)
		return nil
	}

	select {
	case d.mailbox <- m:
		return nil
	case <-d.done:
		m.Free()
		return ErrClosed
	}
}

// postLocal queues a message the loop sends to itself. The loop can't block
// on its own mailbox: when it is full, the queued messages move to the
// backlog ahead of m, and everything the loop posts joins the backlog until
// it is drained.
func (d *Dispatcher) postLocal(m *Message) {
	if len(d.backlog) == 0 {
		select {
		case d.mailbox <- m:
			return
		default:
		}
	}
	for {
		select {
		case q := <-d.mailbox:
			d.backlog = append(d.backlog, q)
			continue
		default:
		}
		break
	}
	d.backlog = append(d.backlog, m)
}

// Do runs fn on the loop: inline when already there, otherwise later.
func (d *Dispatcher) Do(fn func()) error {
	if fn == nil {
		return nil
	}
	if d.OnLoop() {
		fn()
		return nil
	}
	return d.Defer(fn)
}

// Defer queues fn to run on a later loop iteration, even when called from
// the loop itself.
func (d *Dispatcher) Defer(fn func()) error {
	if fn == nil {
		return nil
	}
	m := d.pool.Get(TagContextSwitch, 0)
	m.Param = fn
	return d.Post(m)
}

// Call runs fn on the loop and waits for it to return.
func (d *Dispatcher) Call(fn func()) error {
	if d.OnLoop() {
		fn()
		return nil
	}
	ran := make(chan struct{})
	if err := d.Do(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-d.done:
		return ErrClosed
	}
}

// Arm starts e on the coarse queue to expire after ticks periods.
func (d *Dispatcher) Arm(e *timer.Entry, typ timer.Type, ticks int) {
	if d.OnLoop() {
		d.arm(d.coarse, e, typ, ticks)
		return
	}
	d.postTimer(TagStartTimer, e, typ, ticks)
}

// Disarm stops e if it is armed on the coarse queue.
func (d *Dispatcher) Disarm(e *timer.Entry) {
	if d.OnLoop() {
		d.disarm(d.coarse, e)
		return
	}
	d.postTimer(TagStopTimer, e, 0, 0)
}

// ArmQuick starts e on the fine queue.
func (d *Dispatcher) ArmQuick(e *timer.Entry, typ timer.Type, ticks int) {
	if d.quickPeriod <= 0 {
		d.log.Warnf("quick timers disabled, dropping %v", typ)
		return
	}
	if d.OnLoop() {
		d.arm(d.fine, e, typ, ticks)
		return
	}
	d.postTimer(TagStartQuickTimer, e, typ, ticks)
}

// DisarmQuick stops e if it is armed on the fine queue.
func (d *Dispatcher) DisarmQuick(e *timer.Entry) {
	if d.OnLoop() {
		d.disarm(d.fine, e)
		return
	}
	d.postTimer(TagStopQuickTimer, e, 0, 0)
}

// Armed reports whether e is linked in either queue. Loop only.
func (d *Dispatcher) Armed(e *timer.Entry) bool {
	return d.coarse.Linked(e) || d.fine.Linked(e)
}

// Remaining returns the coarse ticks left on e, or -1. Loop only.
func (d *Dispatcher) Remaining(e *timer.Entry) int {
	return d.coarse.Remaining(e)
}

// RegisterEventRange routes messages of range rng to cb. A nil cb removes
// the registration.
func (d *Dispatcher) RegisterEventRange(rng Tag, cb EventFunc) error {
	rng = rng.Range()
	if _, ok := d.routes[rng]; ok {
		return errors.Wrapf(ErrReservedRange, "%v", rng)
	}
	return d.onContext(func() error { return d.events.set(rng, cb) })
}

// DeregisterEventRange removes the registration of rng.
func (d *Dispatcher) DeregisterEventRange(rng Tag) {
	_ = d.RegisterEventRange(rng, nil)
}

// RegisterTimer registers cb for e and arms e on the coarse queue. Nothing
// is armed when the registry is full.
func (d *Dispatcher) RegisterTimer(e *timer.Entry, typ timer.Type, ticks int, cb TimerFunc) error {
	if cb == nil {
		d.CancelTimer(e)
		return nil
	}
	if err := d.onContext(func() error { return d.timers.set(e, cb) }); err != nil {
		return err
	}
	d.Arm(e, typ, ticks)
	return nil
}

// CancelTimer disarms e and forgets its callback.
func (d *Dispatcher) CancelTimer(e *timer.Entry) {
	_ = d.onContext(func() error { return d.timers.set(e, nil) })
	d.Disarm(e)
}

// Stats returns a snapshot of the loop counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Routed:        d.routed.Value(),
		Dropped:       d.dropped.Value(),
		TimersFired:   d.timersFired.Value(),
		TimersDropped: d.timersDropped.Value(),
	}
}

// onContext runs fn on the loop when it runs, or inline before it starts.
func (d *Dispatcher) onContext(fn func() error) error {
	if d.OnLoop() || d.state.Load() != stateRunning {
		return fn()
	}
	var err error
	if cerr := d.Call(func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

func (d *Dispatcher) postTimer(tag Tag, e *timer.Entry, typ timer.Type, ticks int) {
	if e == nil {
		return
	}
	m := d.pool.Get(tag, 0)
	m.Param = &timerReq{e: e, typ: typ, ticks: ticks}
	if err := d.Post(m); err != nil {
		d.log.Debugf("%v dropped: %v", tag, err)
	}
}

func (d *Dispatcher) route(m *Message) {
	if r, ok := d.routes[m.Tag.Range()]; ok {
		d.routed.Inc()
		r.handler(m)
		if r.own == Borrow {
			m.Free()
		}
		return
	}

	if cb := d.events.get(m.Tag.Range()); cb != nil {
		d.routed.Inc()
		cb(m)
		return
	}

	d.log.Debugf("no route for %v, dropping", m.Tag)
	d.dropped.Inc()
	m.Free()
}

// drain routes what is already queued, in order. The backlog holds older
// messages than the mailbox and goes first.
func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.done:
			return
		default:
		}
		if len(d.backlog) > 0 {
			m := d.backlog[0]
			d.backlog[0] = nil
			d.backlog = d.backlog[1:]
			d.route(m)
			continue
		}
		select {
		case m := <-d.mailbox:
			d.route(m)
		default:
			return
		}
	}
}

func (d *Dispatcher) tick() {
	for _, e := range d.coarse.Advance(1) {
		d.fire(e, false)
	}
	d.syncTicks()
}

func (d *Dispatcher) quickTick() {
	for _, e := range d.fine.Advance(1) {
		d.fire(e, true)
	}
	d.syncTicks()
}

func (d *Dispatcher) fire(e *timer.Entry, quick bool) {
	switch {
	case e.Type == timer.UserFunc:
		fn, ok := e.Param.(func(*timer.Entry))
		if !ok {
			d.timersDropped.Inc()
			d.log.Warnf("user timer %v without function", e)
			return
		}
		d.timersFired.Inc()
		fn(e)
		return
	case !quick && e.Type.Builtin():
		d.timersFired.Inc()
		d.layers.Timeout(e)
		return
	case quick && e.Type.Quick():
		d.timersFired.Inc()
		d.layers.QuickTimeout(e)
		return
	}

	if cb := d.timers.get(e); cb != nil {
		d.timersFired.Inc()
		cb(e)
		return
	}
	d.timersDropped.Inc()
	d.log.Debugf("unhandled %v", e)
}

func (d *Dispatcher) arm(q *timer.Queue, e *timer.Entry, typ timer.Type, ticks int) {
	if e == nil {
		return
	}
	e.Type = typ
	q.Insert(e, ticks)
	d.syncTicks()
}

func (d *Dispatcher) disarm(q *timer.Queue, e *timer.Entry) {
	q.Remove(e)
	d.syncTicks()
}

// syncTicks runs a tick source exactly while its queue holds entries.
func (d *Dispatcher) syncTicks() {
	run := func(q *timer.Queue, src TickSource, period time.Duration) {
		switch {
		case q.Empty() && src.Running():
			src.Stop()
		case !q.Empty() && !src.Running() && period > 0:
			src.Start(period)
		}
	}
	run(d.coarse, d.ticks, d.period)
	run(d.fine, d.quickTicks, d.quickPeriod)
}

func (d *Dispatcher) onStartTimer(m *Message) {
	if r, ok := m.Param.(*timerReq); ok {
		d.arm(d.coarse, r.e, r.typ, r.ticks)
	}
}

func (d *Dispatcher) onStopTimer(m *Message) {
	if r, ok := m.Param.(*timerReq); ok {
		d.disarm(d.coarse, r.e)
	}
}

func (d *Dispatcher) onStartQuickTimer(m *Message) {
	if r, ok := m.Param.(*timerReq); ok {
		d.arm(d.fine, r.e, r.typ, r.ticks)
	}
}

func (d *Dispatcher) onStopQuickTimer(m *Message) {
	if r, ok := m.Param.(*timerReq); ok {
		d.disarm(d.fine, r.e)
	}
}

func (d *Dispatcher) onContextSwitch(m *Message) {
	if fn, ok := m.Param.(func()); ok {
		fn()
	}
}

func (d *Dispatcher) shutdown() {
	d.state.Store(stateTerminated)
	d.Close()
	d.ticks.Stop()
	d.quickTicks.Stop()

	// senders blocked on a full mailbox return once done is closed
	d.postMu.Lock()
	defer d.postMu.Unlock()
	for {
		select {
		case m := <-d.mailbox:
			m.Free()
			continue
		default:
		}
		break
	}
	for _, m := range d.backlog {
		m.Free()
	}
	d.backlog = nil
	d.log.Debug("dispatcher terminated")
}
