// Package session owns the live identity and applies identity-provider events
// one at a time: each event updates the identity, runs the cache invalidation
// policy and notifies subscribers before the next event is taken.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"site-scheduler/backend/internal/cache"
	"site-scheduler/backend/internal/guard"
	identitydomain "site-scheduler/backend/internal/identity/domain"
	"site-scheduler/backend/internal/identity/provider"
	"site-scheduler/backend/internal/telemetry"
	telemetrydomain "site-scheduler/backend/internal/telemetry/domain"
)

// DefaultInitTimeout bounds the wait for the provider's first event.
const DefaultInitTimeout = 5 * time.Second

const source = "session"

// Phase is the store's lifecycle marker.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseResolving     Phase = "resolving"
	PhaseReady         Phase = "ready"
	PhaseTimedOut      Phase = "timed_out"
)

// Unblocked reports whether consumers may stop waiting. Only PhaseReady carries a trustworthy identity.
func (p Phase) Unblocked() bool {
	return p == PhaseReady || p == PhaseTimedOut
}

// State is the read view of the store.
type State struct {
	Identity  *identitydomain.Identity
	IsLoading bool
	Phase     Phase
}

func (s State) equal(o State) bool {
	return s.IsLoading == o.IsLoading && s.Phase == o.Phase && identitydomain.SameSnapshot(s.Identity, o.Identity)
}

// Change is passed to subscribers after every state change.
type Change struct {
	// Event is the applied auth event, or nil when the change came from the
	// init guard or a sign-out request.
	Event *identitydomain.AuthEvent
	State State
	// Action is what the cache policy did for Event.
	Action cache.Action
}

// Options configures a Store.
type Options struct {
	InitTimeout time.Duration
	Emitter     telemetry.EventEmitter
	Metrics     *telemetry.Metrics
}

// Store is the session store. Create with NewStore.
type Store struct {
	provider  provider.Provider
	cache     cache.Controller
	selection cache.SelectionEraser
	guard     *guard.Guard
	opts      Options

	// applyMu serializes event application, guard firing and subscriber calls.
	applyMu     sync.Mutex
	subscribers []func(ctx context.Context, c Change)
	lastEvent   *identitydomain.AuthEvent

	mu    sync.RWMutex
	state State

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// NewStore returns a store in PhaseUninitialized. sel may be nil.
func NewStore(p provider.Provider, c cache.Controller, sel cache.SelectionEraser, opts Options) *Store {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	return &Store{
		provider:  p,
		cache:     c,
		selection: sel,
		guard:     guard.New("auth-init"),
		opts:      opts,
		state:     State{Phase: PhaseUninitialized, IsLoading: true},
	}
}

// Subscribe registers fn to run after every state change, in order, on the
// goroutine that applied the change. Register before Start.
func (s *Store) Subscribe(fn func(ctx context.Context, c Change)) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start enters PhaseResolving, arms the init guard, starts draining provider
// events and asks the provider to restore its session. It returns immediately.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state.Phase != PhaseUninitialized {
		s.mu.Unlock()
		return
	}
	s.state.Phase = PhaseResolving
	s.state.IsLoading = true
	s.mu.Unlock()

	s.guard.Arm(s.opts.InitTimeout, func() { s.onInitTimeout(ctx) })

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		s.Run(runCtx)
	}()
	go func() {
		if err := s.provider.Start(runCtx); err != nil {
			log.Printf("session: identity provider start failed: %v", err)
		}
	}()
}

// Run applies provider events in emission order until ctx is done.
func (s *Store) Run(ctx context.Context) {
	events := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.OnAuthEvent(ctx, ev)
		}
	}
}

// Stop disarms the init guard and stops the event loop started by Start.
func (s *Store) Stop() {
	s.guard.Disarm()
	if s.runCancel != nil {
		s.runCancel()
		<-s.runDone
	}
}

// OnAuthEvent applies one provider event. Delivering the same event type with
// the same identity snapshot twice in a row leaves the state as after the
// first delivery and does not touch the cache again.
func (s *Store) OnAuthEvent(ctx context.Context, ev identitydomain.AuthEvent) {
	if !ev.Type.Valid() {
		log.Printf("session: ignoring unknown auth event %q", ev.Type)
		return
	}
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.guard.Disarm()

	id := ev.Identity
	if !id.IsPresent() {
		id = nil
	}
	ev.Identity = id
	duplicate := s.lastEvent != nil && s.lastEvent.Type == ev.Type && identitydomain.SameSnapshot(s.lastEvent.Identity, id)
	applied := ev
	s.lastEvent = &applied

	s.mu.Lock()
	prev := s.state
	s.state = State{Identity: id, IsLoading: false, Phase: PhaseReady}
	next := s.state
	s.mu.Unlock()

	s.opts.Metrics.RecordAuthEvent(ctx, string(ev.Type), id != nil)

	var action cache.Action
	if !duplicate {
		action = cache.Decide(ev.Type, id != nil)
		if err := cache.Apply(ctx, action, s.cache, s.selection); err != nil {
			log.Printf("session: applying cache policy for %s: %v", ev.Type, err)
		}
		s.record(ctx, ev, action)
	}
	if duplicate && prev.equal(next) {
		return
	}
	s.notifyLocked(ctx, Change{Event: &applied, State: next, Action: action})
}

// SignOut marks the store loading and asks the provider to sign out. The
// provider's SIGNED_OUT event completes it.
func (s *Store) SignOut(ctx context.Context) error {
	s.applyMu.Lock()
	s.mu.Lock()
	s.state.IsLoading = true
	st := s.state
	s.mu.Unlock()
	s.notifyLocked(ctx, Change{State: st})
	s.applyMu.Unlock()

	telemetry.EmitAsync(s.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeSignOutRequested, source, scopeOf(st.Identity), nil))

	if err := s.provider.SignOut(ctx); err != nil {
		s.applyMu.Lock()
		s.mu.Lock()
		s.state.IsLoading = false
		st := s.state
		s.mu.Unlock()
		s.notifyLocked(ctx, Change{State: st})
		s.applyMu.Unlock()
		return err
	}
	return nil
}

func (s *Store) onInitTimeout(ctx context.Context) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.state.Phase != PhaseResolving {
		s.mu.Unlock()
		return
	}
	s.state.Phase = PhaseTimedOut
	s.state.IsLoading = false
	st := s.state
	s.mu.Unlock()

	s.opts.Metrics.RecordGuardFire(ctx, s.guard.Name())
	telemetry.EmitAsync(s.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeGuardFired, source, telemetry.Scope{},
		map[string]any{"guard": s.guard.Name(), "timeout": s.opts.InitTimeout.String()}))
	s.notifyLocked(ctx, Change{State: st})
}

func (s *Store) notifyLocked(ctx context.Context, c Change) {
	for _, fn := range s.subscribers {
		fn(ctx, c)
	}
}

func (s *Store) record(ctx context.Context, ev identitydomain.AuthEvent, a cache.Action) {
	scope := scopeOf(ev.Identity)
	reason := string(ev.Type)
	if a.Clear {
		s.opts.Metrics.RecordCacheClear(ctx, reason)
		telemetry.EmitAsync(s.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeCacheCleared, source, scope,
			map[string]any{"reason": reason, "erase_selection": a.EraseSelection}))
	} else if a.Invalidate {
		s.opts.Metrics.RecordCacheInvalidate(ctx, reason)
		telemetry.EmitAsync(s.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeCacheInvalidated, source, scope,
			map[string]any{"reason": reason}))
	}
	telemetry.EmitAsync(s.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeAuthEventApplied, source, scope,
		map[string]any{"event": reason, "has_identity": ev.Identity != nil}))
}

func scopeOf(id *identitydomain.Identity) telemetry.Scope {
	if id == nil {
		return telemetry.Scope{}
	}
	return telemetry.Scope{UserID: id.UserID, SessionID: id.SessionID}
}
