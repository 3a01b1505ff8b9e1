/*
 * Copyright © 2026 Fabric Testbed Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package kernel implements the actor kernel: the single-threaded
// event/tick scheduler that owns one actor's thread of mutation. Every
// role (Orchestrator, Broker, Authority) embeds an *Actor and supplies a
// RoleHandler; the kernel itself has no notion of reservations or
// tickets, only events, timers and ticks — the protocol semantics live
// in internal/protocol and internal/reservation.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fabric-testbed/control-core/internal/msgs"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// ActorEvent is a unit of work that must run on the actor thread.
type ActorEvent interface {
	Execute(ctx context.Context) error
}

// ActorEventFunc adapts a plain function to ActorEvent.
type ActorEventFunc func(ctx context.Context) error

func (f ActorEventFunc) Execute(ctx context.Context) error { return f(ctx) }

// RoleHandler is implemented once per role (orchestrator/broker/authority)
// and supplies the behavior the kernel's tick sequence invokes.
type RoleHandler interface {
	// TickHandler runs the role-specific per-cycle work, after
	// policy.Prepare and before policy.Finish.
	TickHandler(ctx context.Context, cycle int) error

	// ProbePendingOperations is the kernel-wrapper tick: it checks
	// every owned reservation's pending operation for completion (e.g.
	// a Priming reservation whose UnitSet has no pending units
	// transitions to Active).
	ProbePendingOperations(ctx context.Context) error

	// HasPendingReservations reports whether any owned reservation
	// still has pending != None; backs AwaitNoPendingReservations.
	HasPendingReservations() bool

	// DeferredOps is invoked once, on the first tick, to issue any
	// deferred pre-recovery operations (closing, redeeming,
	// extending_lease, modifying_lease, ticketing, extending).
	DeferredOps(ctx context.Context) error
}

type actorState int

const (
	stateNew actorState = iota
	stateRunning
	stateStopped
)

// Actor is the per-role single-threaded event/tick scheduler.
type Actor struct {
	Name string

	ctx    context.Context
	cancel context.CancelFunc

	policy policy.Hooks
	role   RoleHandler

	events chan ActorEvent

	timersMu sync.Mutex
	timers   []*timerEntry

	stop chan struct{}
	done chan struct{}

	mu            sync.Mutex
	state         actorState
	currentCycle  int
	everTicked    bool
	recovered     bool
	onActorThread bool // set only while the loop goroutine is executing

	cond *sync.Cond // signaled after every processed batch; backs AwaitNoPendingReservations

	cronDriver *cron.Cron

	metrics *kernelMetrics

	// postTickHook, when set, is invoked after every tick's
	// ProbePendingOperations phase. Operational notification always
	// fires from here, never from inside an FSM transition. It runs on
	// its own goroutine so a slow sink can never delay the next tick.
	postTickHook func(ctx context.Context, cycle int)
}

// SetPostTickHook installs fn as this actor's post-tick hook,
// replacing any previous one. Pass nil to disable.
func (a *Actor) SetPostTickHook(fn func(ctx context.Context, cycle int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.postTickHook = fn
}

type timerEntry struct {
	deadline time.Time
	event    ActorEvent
	fired    bool
}

type kernelMetrics struct {
	ticksProcessed prometheus.Counter
	eventsHandled  prometheus.Counter
	handlerErrors  prometheus.Counter
}

func newKernelMetrics(actorName string) *kernelMetrics {
	return &kernelMetrics{
		ticksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "control_core_kernel_ticks_processed_total",
			Help:        "Number of ticks processed by this actor's kernel.",
			ConstLabels: prometheus.Labels{"actor": actorName},
		}),
		eventsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "control_core_kernel_events_handled_total",
			Help:        "Number of queued events handled by this actor's kernel.",
			ConstLabels: prometheus.Labels{"actor": actorName},
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "control_core_kernel_handler_errors_total",
			Help:        "Number of event/timer/tick handler errors logged (and swallowed) by this actor's kernel.",
			ConstLabels: prometheus.Labels{"actor": actorName},
		}),
	}
}

// Register adds this Actor's metrics to reg. Safe to call once per Actor;
// a second registration attempt for the same actor name is a caller bug
// and is logged, not panicked.
func (a *Actor) Register(reg *prometheus.Registry) {
	for _, c := range []prometheus.Collector{a.metrics.ticksProcessed, a.metrics.eventsHandled, a.metrics.handlerErrors} {
		if err := reg.Register(c); err != nil {
			log.L(a.ctx).Warnf("metrics registration for actor %s skipped: %s", a.Name, err)
		}
	}
}

// NewActor constructs an Actor, performing its one-time initialization.
// It fails if policy or role is nil.
func NewActor(ctx context.Context, name string, pol policy.Hooks, role RoleHandler, eventQueueDepth int) (*Actor, error) {
	if pol == nil {
		return nil, msgs.NewError(ctx, msgs.MsgInvalidArguments, "policy must not be nil")
	}
	if role == nil {
		return nil, msgs.NewError(ctx, msgs.MsgInvalidArguments, "role handler must not be nil")
	}
	if eventQueueDepth <= 0 {
		eventQueueDepth = 1024
	}
	actorCtx, cancel := context.WithCancel(log.WithField(ctx, "actor", name))
	a := &Actor{
		Name:    name,
		ctx:     actorCtx,
		cancel:  cancel,
		policy:  pol,
		role:    role,
		events:  make(chan ActorEvent, eventQueueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: newKernelMetrics(name),
	}
	a.cond = sync.NewCond(&a.mu)
	return a, nil
}

// SetRecovered marks the actor as having completed recovery; called by
// internal/recovery before the first tick.
func (a *Actor) SetRecovered(v bool) {
	a.mu.Lock()
	a.recovered = v
	a.mu.Unlock()
}

// Recovered reports whether recovery has completed.
func (a *Actor) Recovered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recovered
}

// Start spawns the actor thread. Idempotent: calling Start twice on an
// already-running actor is a no-op.
func (a *Actor) Start(manualClock bool, tickLength time.Duration) error {
	a.mu.Lock()
	if a.state == stateRunning {
		a.mu.Unlock()
		return nil
	}
	a.state = stateRunning
	a.mu.Unlock()

	go a.loop()

	if !manualClock {
		a.cronDriver = cron.New(cron.WithSeconds())
		spec := fmt.Sprintf("@every %s", tickLength)
		cycle := 0
		_, err := a.cronDriver.AddFunc(spec, func() {
			cycle++
			a.Tick(cycle)
		})
		if err != nil {
			return msgs.NewError(a.ctx, msgs.MsgInternalError, err.Error())
		}
		a.cronDriver.Start()
	}
	return nil
}

// Stop idempotently stops the actor thread and, if running, the
// wall-clock cron driver. After Stop returns and the loop has drained,
// no further event handler for this actor executes.
func (a *Actor) Stop() {
	a.mu.Lock()
	if a.state != stateRunning {
		a.mu.Unlock()
		return
	}
	a.state = stateStopped
	a.mu.Unlock()

	if a.cronDriver != nil {
		a.cronDriver.Stop()
	}
	close(a.stop)
	<-a.done
	a.cancel()
}

// Tick posts an external monotonic time signal for the given cycle.
func (a *Actor) Tick(cycle int) {
	a.QueueEvent(ActorEventFunc(func(ctx context.Context) error {
		return a.runTick(ctx, cycle)
	}))
}

// QueueEvent thread-safely enqueues e. If the actor has already
// stopped, e is dropped; queued but unprocessed events never run.
func (a *Actor) QueueEvent(e ActorEvent) {
	select {
	case a.events <- e:
	case <-a.stop:
	}
}

// completion is the synchronous call-in primitive backing
// ExecuteOnActorThreadAndWait.
type completion struct {
	done chan struct{}
	err  error
}

// ExecuteOnActorThreadAndWait runs r synchronously: inline if the caller
// is already on the actor thread, otherwise it posts an event and blocks
// until that event has executed.
func (a *Actor) ExecuteOnActorThreadAndWait(ctx context.Context, r func(ctx context.Context) error) error {
	a.mu.Lock()
	onThread := a.onActorThread
	a.mu.Unlock()
	if onThread {
		return r(ctx)
	}

	c := &completion{done: make(chan struct{})}
	a.QueueEvent(ActorEventFunc(func(ctx context.Context) error {
		c.err = r(ctx)
		close(c.done)
		return c.err
	}))
	select {
	case <-c.done:
		return c.err
	case <-a.stop:
		return msgs.NewError(ctx, msgs.MsgRPCCancelled, "execute-and-wait", a.Name)
	}
}

// AwaitNoPendingReservations blocks until HasPendingReservations reports
// false, or the actor stops.
func (a *Actor) AwaitNoPendingReservations(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.role.HasPendingReservations() {
		select {
		case <-a.stop:
			return
		default:
		}
		a.cond.Wait()
	}
}

func (a *Actor) wakeWaiters() {
	a.mu.Lock()
	a.cond.Broadcast()
	a.mu.Unlock()
}

// loop is the main scheduler: awaits at least one event or timer,
// drains both queues into local batches, processes events first then
// timers; any handler error is logged and does not stop the loop.
func (a *Actor) loop() {
	defer close(a.done)
	defer a.wakeWaiters()

	recheck := time.NewTimer(time.Hour)
	defer recheck.Stop()

	for {
		a.resetRecheckTimer(recheck)

		select {
		case e := <-a.events:
			a.setOnThread(true)
			a.drainAndProcess(e)
			a.setOnThread(false)
			a.wakeWaiters()
		case <-recheck.C:
			a.setOnThread(true)
			a.fireDueTimers()
			a.setOnThread(false)
			a.wakeWaiters()
		case <-a.stop:
			return
		}
	}
}

func (a *Actor) setOnThread(v bool) {
	a.mu.Lock()
	a.onActorThread = v
	a.mu.Unlock()
}

func (a *Actor) drainAndProcess(first ActorEvent) {
	batch := []ActorEvent{first}
	for {
		select {
		case e := <-a.events:
			batch = append(batch, e)
		default:
			goto process
		}
	}
process:
	for _, e := range batch {
		a.runEvent(e)
	}
	a.fireDueTimers()
}

func (a *Actor) runEvent(e ActorEvent) {
	a.metrics.eventsHandled.Inc()
	if err := e.Execute(a.ctx); err != nil {
		a.metrics.handlerErrors.Inc()
		log.L(a.ctx).Errorf("actor %s: event handler error: %s", a.Name, err)
	}
}

func (a *Actor) resetRecheckTimer(t *time.Timer) {
	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	next := time.Hour
	now := time.Now()
	for _, te := range a.timers {
		if te.fired {
			continue
		}
		if d := te.deadline.Sub(now); d < next {
			if d < 0 {
				d = 0
			}
			next = d
		}
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(next)
}

func (a *Actor) fireDueTimers() {
	a.timersMu.Lock()
	now := time.Now()
	due := []ActorEvent{}
	remaining := a.timers[:0]
	for _, te := range a.timers {
		if !te.fired && !te.deadline.After(now) {
			te.fired = true
			due = append(due, te.event)
		} else if !te.fired {
			remaining = append(remaining, te)
		}
	}
	a.timers = remaining
	a.timersMu.Unlock()

	for _, e := range due {
		a.runEvent(e)
	}
}

// ScheduleTimer arranges for e to execute on the actor thread after d,
// used by internal/rpcmanager for per-request deadlines.
func (a *Actor) ScheduleTimer(d time.Duration, e ActorEvent) {
	a.timersMu.Lock()
	a.timers = append(a.timers, &timerEntry{deadline: time.Now().Add(d), event: e})
	a.timersMu.Unlock()

	// Wake the loop so it recomputes its recheck deadline; a timer
	// scheduled while the actor is idle would otherwise not fire until
	// the next event happened to arrive.
	select {
	case a.events <- ActorEventFunc(func(context.Context) error { return nil }):
	default:
	}
}

// runTick runs the actor's numbered tick sequence for cycle.
func (a *Actor) runTick(ctx context.Context, cycle int) error {
	a.mu.Lock()
	prev := a.currentCycle
	first := !a.everTicked
	a.everTicked = true
	a.mu.Unlock()

	// If cycles arrive out of order by more than one, catch up on the
	// skipped cycles one at a time before running the requested one.
	if !first && cycle > prev+1 {
		for c := prev + 1; c < cycle; c++ {
			if err := a.runOneTick(ctx, c, false); err != nil {
				return err
			}
		}
	}
	return a.runOneTick(ctx, cycle, first)
}

func (a *Actor) runOneTick(ctx context.Context, cycle int, first bool) error {
	a.mu.Lock()
	a.currentCycle = cycle
	a.mu.Unlock()

	if err := a.policy.Prepare(ctx, cycle); err != nil {
		log.L(ctx).Errorf("actor %s: policy.Prepare(%d) error: %s", a.Name, cycle, err)
	}

	if first {
		if err := a.role.DeferredOps(ctx); err != nil {
			log.L(ctx).Errorf("actor %s: deferred ops error: %s", a.Name, err)
		}
	}

	if err := a.role.TickHandler(ctx, cycle); err != nil {
		log.L(ctx).Errorf("actor %s: tick handler error: %s", a.Name, err)
	}

	if err := a.policy.Finish(ctx, cycle); err != nil {
		log.L(ctx).Errorf("actor %s: policy.Finish(%d) error: %s", a.Name, cycle, err)
	}

	if err := a.role.ProbePendingOperations(ctx); err != nil {
		log.L(ctx).Errorf("actor %s: probe pending operations error: %s", a.Name, err)
	}

	a.mu.Lock()
	hook := a.postTickHook
	a.mu.Unlock()
	if hook != nil {
		go hook(ctx, cycle)
	}

	a.metrics.ticksProcessed.Inc()
	return nil
}

// CurrentCycle returns the last cycle number processed.
func (a *Actor) CurrentCycle() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentCycle
}

// RunRecoveryFanOut runs fns concurrently using errgroup, returning on
// the first error (used by internal/recovery to rehydrate several slices
// in parallel while keeping a clean first-error surface to the caller).
func RunRecoveryFanOut(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
