// Package txn implements Cube's per-client transaction manager:
// read/write buffering, snapshot isolation anchored at BEGIN, and
// first-committer-wins optimistic conflict detection at COMMIT. Each
// client's state is owned exclusively by a lazily created actor goroutine
// keyed by client name, generalizing the refcounted per-key mutex registry
// the teacher uses for distributed locking (pkg/lock/local/locker.go) into
// a channel-owned actor (spec.md §9).
package txn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalbasit/cube/pkg/metrics"
	"github.com/kalbasit/cube/pkg/router"
	"github.com/kalbasit/cube/pkg/value"
)

// ErrAlreadyInTransaction is returned by Begin when the client already has
// an open transaction.
var ErrAlreadyInTransaction = errors.New("txn: already in transaction")

// ErrNoTransactionInProgress is returned by Commit/Rollback when the client
// has no open transaction.
var ErrNoTransactionInProgress = errors.New("txn: no transaction in progress")

// AtomicityFailureError is returned by Commit when one or more keys the
// transaction read have changed since BEGIN.
type AtomicityFailureError struct {
	Keys []string
}

func (e *AtomicityFailureError) Error() string {
	return fmt.Sprintf("atomicity failure (%s)", strings.Join(e.Keys, ", "))
}

// state is one client's open transaction.
type state struct {
	beginTs time.Time
	reads   map[string]string
	writes  map[string]string
}

// actor owns one client's transaction state, reached only through jobs.
type actor struct {
	jobs         chan func()
	stop         chan struct{}
	txn          *state
	lastActivity time.Time
}

func newActor() *actor {
	a := &actor{
		jobs:         make(chan func(), 16),
		stop:         make(chan struct{}),
		lastActivity: time.Now(),
	}

	go a.run()

	return a
}

func (a *actor) run() {
	for {
		select {
		case job := <-a.jobs:
			job()
		case <-a.stop:
			return
		}
	}
}

// Manager is the per-client transaction manager described in spec.md §4.7.
type Manager struct {
	router      *router.Router
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	idleTimeout time.Duration

	mu     sync.Mutex
	actors map[string]*actor
}

// New builds a Manager over r. idleTimeout bounds how long an open
// transaction may sit without a COMMIT/ROLLBACK before the sweep reaps it
// (spec.md §4.7's one-hour default, configurable per SPEC_FULL.md §4.10).
func New(r *router.Router, m *metrics.Metrics, logger zerolog.Logger, idleTimeout time.Duration) *Manager {
	return &Manager{
		router:      r,
		metrics:     m,
		logger:      logger,
		idleTimeout: idleTimeout,
		actors:      make(map[string]*actor),
	}
}

func (mgr *Manager) getActor(client string) *actor {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	a, ok := mgr.actors[client]
	if !ok {
		a = newActor()
		mgr.actors[client] = a
	}

	return a
}

// dispatch runs fn on client's owner goroutine and waits for it to finish
// or ctx to be canceled.
func (mgr *Manager) dispatch(ctx context.Context, client string, fn func()) error {
	a := mgr.getActor(client)

	done := make(chan struct{})
	job := func() {
		a.lastActivity = time.Now()
		fn()
		close(done)
	}

	select {
	case a.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get performs a GET for client, honoring the transactional read-buffering
// rules of spec.md §4.7 when a transaction is open.
func (mgr *Manager) Get(ctx context.Context, client, key string) (string, error) {
	var (
		result string
		opErr  error
	)

	err := mgr.dispatch(ctx, client, func() {
		a := mgr.actors[client]
		result, opErr = mgr.getLocked(ctx, a, key)
	})
	if err != nil {
		return "", err
	}

	return result, opErr
}

func (mgr *Manager) getLocked(ctx context.Context, a *actor, key string) (string, error) {
	if a.txn == nil {
		return mgr.router.Get(ctx, []byte(key))
	}

	if v, ok := a.txn.writes[key]; ok {
		return v, nil
	}

	if v, ok := a.txn.reads[key]; ok {
		return v, nil
	}

	v, err := mgr.router.GetAt(ctx, []byte(key), a.txn.beginTs)
	if err != nil {
		v = "NIL"
	}

	a.txn.reads[key] = v

	return v, nil
}

// Set performs a SET for client. The returned oldValue is the value
// observed immediately before the write, per the read-then-write ordering
// of spec.md §4.5/§4.7.
func (mgr *Manager) Set(ctx context.Context, client, key string, val value.Value) (oldValue, newValue string, err error) {
	newValue = val.Canonical()

	var opErr error

	dispatchErr := mgr.dispatch(ctx, client, func() {
		a := mgr.actors[client]
		oldValue, opErr = mgr.setLocked(ctx, a, key, val)
	})
	if dispatchErr != nil {
		return "", "", dispatchErr
	}

	return oldValue, newValue, opErr
}

func (mgr *Manager) setLocked(ctx context.Context, a *actor, key string, val value.Value) (string, error) {
	if a.txn == nil {
		old, _, err := mgr.router.Set(ctx, []byte(key), val)

		return old, err
	}

	var oldValue string
	if v, ok := a.txn.writes[key]; ok {
		oldValue = v
	} else {
		v, err := mgr.getLocked(ctx, a, key)
		if err != nil {
			return "", err
		}

		oldValue = v
	}

	a.txn.writes[key] = val.Canonical()

	return oldValue, nil
}

// Begin opens a transaction for client.
func (mgr *Manager) Begin(ctx context.Context, client string) error {
	var opErr error

	err := mgr.dispatch(ctx, client, func() {
		a := mgr.actors[client]
		if a.txn != nil {
			opErr = ErrAlreadyInTransaction

			return
		}

		a.txn = &state{
			beginTs: time.Now(),
			reads:   make(map[string]string),
			writes:  make(map[string]string),
		}
	})
	if err != nil {
		return err
	}

	return opErr
}

// Commit applies client's buffered writes if no read it performed has
// changed since BEGIN (first-committer-wins, spec.md §4.7).
func (mgr *Manager) Commit(ctx context.Context, client string) error {
	var opErr error

	err := mgr.dispatch(ctx, client, func() {
		a := mgr.actors[client]
		if a.txn == nil {
			opErr = ErrNoTransactionInProgress

			return
		}

		conflicts := mgr.conflictingKeys(ctx, a.txn)
		if len(conflicts) > 0 {
			a.txn = nil
			mgr.metrics.RecordTxnConflict(ctx)
			opErr = &AtomicityFailureError{Keys: conflicts}

			return
		}

		for k, s := range a.txn.writes {
			if _, _, err := mgr.router.Set(ctx, []byte(k), value.ParseCanonical(s)); err != nil {
				mgr.logger.Error().Err(err).Str("key", k).Msg("commit: applying buffered write failed")
			}
		}

		a.txn = nil
	})
	if err != nil {
		return err
	}

	return opErr
}

func (mgr *Manager) conflictingKeys(ctx context.Context, txn *state) []string {
	var conflicts []string

	for k, expected := range txn.reads {
		current, err := mgr.router.Get(ctx, []byte(k))
		if err != nil {
			current = "NIL"
		}

		if current != expected {
			conflicts = append(conflicts, k)
		}
	}

	sort.Strings(conflicts)

	return conflicts
}

// Rollback discards client's buffered transaction.
func (mgr *Manager) Rollback(ctx context.Context, client string) error {
	var opErr error

	err := mgr.dispatch(ctx, client, func() {
		a := mgr.actors[client]
		if a.txn == nil {
			opErr = ErrNoTransactionInProgress

			return
		}

		a.txn = nil
	})
	if err != nil {
		return err
	}

	return opErr
}

// Sweep reaps transactions that have been open longer than the manager's
// idle timeout, per spec.md §4.7's once-per-minute staleness sweep. A
// reaped transaction behaves as if ROLLBACK had been called on it.
func (mgr *Manager) Sweep(ctx context.Context) {
	mgr.mu.Lock()
	clients := make([]string, 0, len(mgr.actors))

	for client := range mgr.actors {
		clients = append(clients, client)
	}
	mgr.mu.Unlock()

	for _, client := range clients {
		client := client

		_ = mgr.dispatch(ctx, client, func() {
			a := mgr.actors[client]
			if a.txn != nil && time.Since(a.txn.beginTs) > mgr.idleTimeout {
				mgr.logger.Info().Str("client", client).Msg("reaping stale transaction")

				a.txn = nil
			}
		})
	}
}
