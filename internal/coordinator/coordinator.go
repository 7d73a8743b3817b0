// Package coordinator serializes sync attempts behind a single global
// lock, schedules timed background syncs, and fans out the per-collection
// synchronizers over one shared ready session.
package coordinator

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yonngwoo/weave/internal/auth"
	"github.com/yonngwoo/weave/internal/bus"
	"github.com/yonngwoo/weave/internal/engine"
	"github.com/yonngwoo/weave/internal/prefs"
	"github.com/yonngwoo/weave/internal/store"
)

// Labels for the built-in synchronizers, in the canonical fan-out order.
const (
	LabelClients = "clients"
	LabelTabs    = "tabs"
	LabelHistory = "history"
	LabelLogins  = "logins"
)

// DefaultSyncInterval is the period of the background sync timer.
const DefaultSyncInterval = 15 * time.Minute

// loginsSyncMinGap rate-limits event-triggered logins syncs.
const loginsSyncMinGap = time.Minute

// loginsSyncDelay is the settle delay between a logins-changed event and
// the sync it schedules, so bursts of writes coalesce into one attempt.
const loginsSyncDelay = 3 * time.Second

// Result pairs one collection label with the outcome of its attempt.
type Result struct {
	Label  string
	Status engine.Status
}

// Reporter receives sync progress callbacks. The dashboard implements it;
// a nil reporter disables reporting.
type Reporter interface {
	SyncStarted(labels []string)
	CollectionStatus(label string, st engine.Status)
	SyncCompleted(results []Result)
	AccountChanged(hasAccount bool)
}

// Config carries the coordinator's dependencies.
type Config struct {
	Store    *store.Store
	Prefs    *prefs.Prefs
	Provider auth.SessionProvider

	// Bus, when set, is subscribed for logins-changed events to schedule
	// debounced logins-only syncs.
	Bus *bus.Bus

	// Reporter, when set, receives progress callbacks.
	Reporter Reporter

	// Interval overrides DefaultSyncInterval for the background timer.
	Interval time.Duration

	Logger *log.Logger
}

// Coordinator owns the account, the global sync lock, and the timer. All
// sync entry points funnel through syncSeveral, so at most one session is
// in flight at any instant; a caller that loses the lock race gets an
// immediate AlreadySyncing status, never a queue slot.
type Coordinator struct {
	store    *store.Store
	prefs    *prefs.Prefs
	provider auth.SessionProvider
	reporter Reporter
	logger   *log.Logger

	clients engine.Synchronizer
	tabs    engine.Synchronizer
	history engine.Synchronizer
	logins  engine.Synchronizer

	syncing atomic.Bool

	mu             sync.Mutex
	account        *auth.Account
	lastLoginsSync time.Time
	loginsPending  bool
	loginsTimer    *time.Timer
	loginsDelay    time.Duration

	interval    time.Duration
	timerStop   chan struct{}
	timerWG     sync.WaitGroup
	unsubscribe func()
}

// New creates a coordinator and subscribes it to the bus if one is given.
// Call Close to release the subscription and stop the timer.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	c := &Coordinator{
		store:       cfg.Store,
		prefs:       cfg.Prefs,
		provider:    cfg.Provider,
		reporter:    cfg.Reporter,
		logger:      logger,
		clients:     engine.NewClientsSynchronizer(cfg.Store, cfg.Prefs, logger),
		tabs:        engine.NewTabsSynchronizer(cfg.Store, cfg.Prefs, logger),
		history:     engine.NewHistorySynchronizer(cfg.Store, cfg.Prefs, logger),
		logins:      engine.NewLoginsSynchronizer(cfg.Store, cfg.Prefs, logger),
		interval:    interval,
		loginsDelay: loginsSyncDelay,
	}

	if cfg.Bus != nil {
		c.unsubscribe = cfg.Bus.Subscribe(bus.EventLoginsChanged, func(bus.Event) {
			c.ScheduleLoginsSync()
		})
	}

	return c
}

// Close stops the timers and unsubscribes from the bus. A logins sync
// scheduled but not yet started will not fire after Close. It does not
// wait for an in-flight caller-invoked sync.
func (c *Coordinator) Close() {
	c.EndTimedSyncs()

	c.mu.Lock()
	if c.loginsTimer != nil {
		c.loginsTimer.Stop()
		c.loginsTimer = nil
	}
	c.loginsPending = false
	c.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// SetAccount installs the signed-in account. A nil account means signed
// out; sync attempts then report NotStarted(NoAccount).
func (c *Coordinator) SetAccount(acct *auth.Account) {
	c.mu.Lock()
	c.account = acct
	c.mu.Unlock()

	if c.reporter != nil {
		c.reporter.AccountChanged(acct != nil)
	}
}

// Account returns the current account, or nil when signed out.
func (c *Coordinator) Account() *auth.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// SyncClients runs the clients synchronizer alone.
func (c *Coordinator) SyncClients(ctx context.Context) engine.Status {
	return c.syncOne(ctx, LabelClients, c.clients)
}

// SyncHistory runs the history synchronizer alone.
func (c *Coordinator) SyncHistory(ctx context.Context) engine.Status {
	return c.syncOne(ctx, LabelHistory, c.history)
}

// SyncLogins runs the logins synchronizer alone.
func (c *Coordinator) SyncLogins(ctx context.Context) engine.Status {
	return c.syncOne(ctx, LabelLogins, c.logins)
}

// SyncClientsThenTabs runs clients then tabs over one session. The tabs
// status is authoritative: a clients-phase failure is reported through
// the reporter and the log but does not mask the tabs outcome.
func (c *Coordinator) SyncClientsThenTabs(ctx context.Context) engine.Status {
	results := c.syncSeveral(ctx,
		labeled{LabelClients, c.clients},
		labeled{LabelTabs, c.tabs},
	)
	return results[len(results)-1].Status
}

// SyncEverything runs all synchronizers over one session and returns the
// per-collection results in canonical order.
func (c *Coordinator) SyncEverything(ctx context.Context) []Result {
	return c.syncSeveral(ctx,
		labeled{LabelClients, c.clients},
		labeled{LabelTabs, c.tabs},
		labeled{LabelHistory, c.history},
		labeled{LabelLogins, c.logins},
	)
}

// OnAddedAccount installs the new account and runs a full first sync.
func (c *Coordinator) OnAddedAccount(ctx context.Context, acct *auth.Account) []Result {
	c.SetAccount(acct)
	return c.SyncEverything(ctx)
}

// OnRemovedAccount clears local sync state after sign-out. The two data
// cleanups run concurrently; the preference and secret wipe strictly
// follows both, whether or not they succeeded.
func (c *Coordinator) OnRemovedAccount(ctx context.Context) error {
	c.SetAccount(nil)

	var wg sync.WaitGroup
	var flagErr, clearErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		flagErr = c.store.MarkCollectionForResync(ctx, engine.CollectionHistory)
	}()
	go func() {
		defer wg.Done()
		clearErr = c.store.OnRemovedAccount(ctx)
	}()
	wg.Wait()

	prefsErr := c.prefs.ClearSyncState()

	if err := errors.Join(flagErr, clearErr, prefsErr); err != nil {
		return err
	}
	c.logger.Printf("Account removed, local sync state cleared")
	return nil
}

// ScheduleLoginsSync schedules a delayed logins-only sync in response to
// a local logins change. Bursts coalesce into one scheduled attempt, and
// attempts are rate-limited to at most one per minute.
func (c *Coordinator) ScheduleLoginsSync() {
	c.mu.Lock()
	if c.loginsPending || time.Since(c.lastLoginsSync) < loginsSyncMinGap {
		c.mu.Unlock()
		return
	}
	c.loginsPending = true
	c.loginsTimer = time.AfterFunc(c.loginsDelay, func() {
		c.mu.Lock()
		c.loginsPending = false
		c.lastLoginsSync = time.Now()
		c.loginsTimer = nil
		c.mu.Unlock()

		if st := c.SyncLogins(context.Background()); !st.Ok() {
			c.logger.Printf("Scheduled logins sync did not complete: %v", st)
		}
	})
	c.mu.Unlock()
}

type labeled struct {
	label string
	sync  engine.Synchronizer
}

func (c *Coordinator) syncOne(ctx context.Context, label string, s engine.Synchronizer) engine.Status {
	return c.syncSeveral(ctx, labeled{label, s})[0].Status
}

// syncSeveral is the single funnel for every sync attempt. It checks the
// account, takes the global lock, establishes one shared session, and runs
// each synchronizer in input order. One synchronizer's failure never
// aborts its siblings; each label gets its own status.
func (c *Coordinator) syncSeveral(ctx context.Context, items ...labeled) []Result {
	acct := c.Account()
	if acct == nil {
		return c.allNotStarted(items, engine.ReasonNoAccount)
	}

	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Printf("Sync already in progress, rejecting request")
		return c.allNotStarted(items, engine.ReasonAlreadySyncing)
	}
	defer c.syncing.Store(false)

	if c.reporter != nil {
		labels := make([]string, len(items))
		for i, it := range items {
			labels[i] = it.label
		}
		c.reporter.SyncStarted(labels)
	}

	sess, err := c.provider.ReadySession(ctx, acct)
	if err != nil {
		c.logger.Printf("Session establishment failed: %v", err)
		results := c.allNotStarted(items, engine.ReasonNoAccount)
		if c.reporter != nil {
			c.reporter.SyncCompleted(results)
		}
		return results
	}

	results := make([]Result, 0, len(items))
	for _, it := range items {
		st := it.sync.Sync(ctx, sess)
		if !st.Ok() {
			c.logger.Printf("Collection %s: %v", it.label, st)
		}
		if c.reporter != nil {
			c.reporter.CollectionStatus(it.label, st)
		}
		results = append(results, Result{Label: it.label, Status: st})
	}

	if c.reporter != nil {
		c.reporter.SyncCompleted(results)
	}
	return results
}

func (c *Coordinator) allNotStarted(items []labeled, r engine.Reason) []Result {
	results := make([]Result, 0, len(items))
	for _, it := range items {
		results = append(results, Result{Label: it.label, Status: engine.NotStarted(r)})
	}
	return results
}
