// Package update checks cargo manifests for new versions and moves the
// local cache from one version to the next.
//
// An Orchestrator owns every update for the cargos it serves. At most one
// download runs per cargo, tracked by a durable pending block in the
// install record so an interrupted attempt can be resumed after a restart.
// Files are staged under a separate cache tag and only become visible to
// readers through a single namespace swap once they have been verified.
package update

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/cache"
	"github.com/adamancini/hold/internal/metrics"
	"github.com/adamancini/hold/internal/state"
	"github.com/adamancini/hold/internal/types"
)

// Options configures an Orchestrator.
type Options struct {
	Transport Transport
	Cache     cache.Cache
	Store     state.Store
	Log       *logrus.Entry
	Metrics   *metrics.Metrics
	// DisallowReserved rejects manifests that claim a reserved cargo id.
	DisallowReserved bool
}

// Orchestrator runs update checks and downloads.
type Orchestrator struct {
	transport        Transport
	cache            cache.Cache
	store            state.Store
	log              *logrus.Entry
	metrics          *metrics.Metrics
	disallowReserved bool

	// base is the parent of every download context. Downloads outlive the
	// call that started them and end on Abort or Close.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	locks        map[string]bool
	release      map[string]func()
	inflight     map[string]*Download
	phases       map[string]types.Phase
	listeners    map[string]map[ListenerID]Listener
	nextListener ListenerID
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Transport == nil || opts.Cache == nil || opts.Store == nil {
		return nil, fmt.Errorf("transport, cache and store are required")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		transport:        opts.Transport,
		cache:            opts.Cache,
		store:            opts.Store,
		log:              log,
		metrics:          opts.Metrics,
		disallowReserved: opts.DisallowReserved,
		base:             base,
		cancel:           cancel,
		locks:            make(map[string]bool),
		release:          make(map[string]func()),
		inflight:         make(map[string]*Download),
		phases:           make(map[string]types.Phase),
		listeners:        make(map[string]map[ListenerID]Listener),
	}, nil
}

func lockKey(cargoID string) string {
	return "mutex-" + cargoID
}

// tryLock takes the per-cargo update lock without waiting. When the cache is
// shared between processes its lock is taken too, so an attempt running in
// another process is refused the same way as one running here.
func (o *Orchestrator) tryLock(cargoID string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.locks[lockKey(cargoID)] {
		o.mu.Unlock()
		return &ConcurrencyError{CargoID: cargoID}
	}
	o.locks[lockKey(cargoID)] = true
	o.mu.Unlock()

	locker, ok := o.cache.(cache.Locker)
	if !ok {
		return nil
	}
	release, err := locker.TryLock(cargoID)
	if err != nil {
		o.mu.Lock()
		delete(o.locks, lockKey(cargoID))
		o.mu.Unlock()
		if errors.Is(err, cache.ErrLocked) {
			return &ConcurrencyError{CargoID: cargoID}
		}
		return fmt.Errorf("failed to lock %s: %w", cargoID, err)
	}

	o.mu.Lock()
	o.release[cargoID] = release
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) unlock(cargoID string) {
	o.mu.Lock()
	delete(o.locks, lockKey(cargoID))
	release := o.release[cargoID]
	delete(o.release, cargoID)
	o.mu.Unlock()

	if release != nil {
		release()
	}
}

// busy reports whether an update of cargoID is running in this process or,
// for a shared cache, in any other.
func (o *Orchestrator) busy(cargoID string) bool {
	o.mu.Lock()
	held := o.locks[lockKey(cargoID)]
	o.mu.Unlock()
	if held {
		return true
	}

	locker, ok := o.cache.(cache.Locker)
	if !ok {
		return false
	}
	release, err := locker.TryLock(cargoID)
	if err != nil {
		return errors.Is(err, cache.ErrLocked)
	}
	release()
	return false
}

func (o *Orchestrator) setPhase(cargoID string, p types.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases[cargoID] = p
}

// Phase returns the in-memory phase of a cargo. Cargos that have not been
// touched since the orchestrator started are idle.
func (o *Orchestrator) Phase(cargoID string) types.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.phases[cargoID]; ok {
		return p
	}
	return types.PhaseIdle
}

// InFlight returns the running download of a cargo, or nil.
func (o *Orchestrator) InFlight(cargoID string) *Download {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[cargoID]
}

// AddProgressListener registers l for every update of cargoID. Listeners are
// called from a single goroutine per attempt, in registration order.
func (o *Orchestrator) AddProgressListener(cargoID string, l Listener) ListenerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextListener++
	if o.listeners[cargoID] == nil {
		o.listeners[cargoID] = make(map[ListenerID]Listener)
	}
	o.listeners[cargoID][o.nextListener] = l
	return o.nextListener
}

// RemoveListener unregisters a single listener.
func (o *Orchestrator) RemoveListener(cargoID string, id ListenerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.listeners[cargoID], id)
	if len(o.listeners[cargoID]) == 0 {
		delete(o.listeners, cargoID)
	}
}

// RemoveProgressListener unregisters every listener of cargoID.
func (o *Orchestrator) RemoveProgressListener(cargoID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.listeners, cargoID)
}

func (o *Orchestrator) listenersFor(cargoID string) []Listener {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]ListenerID, 0, len(o.listeners[cargoID]))
	for id := range o.listeners[cargoID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, o.listeners[cargoID][id])
	}
	return out
}

// GetInstallRecord returns the durable record of a cargo. A cargo that was
// never installed gets a fresh record with no version.
func (o *Orchestrator) GetInstallRecord(ctx context.Context, cargoID string) (*state.Record, error) {
	rec, err := o.store.Get(ctx, cargoID)
	if err != nil {
		return nil, fmt.Errorf("failed to read install record: %w", err)
	}
	if rec == nil {
		return state.NewRecord(cargoID), nil
	}
	return rec, nil
}

// Abort cancels the running download of a cargo. The attempt ends as
// update-aborted and keeps its staged files for a later retry.
func (o *Orchestrator) Abort(cargoID string) error {
	d := o.InFlight(cargoID)
	if d == nil {
		return ErrNoUpdateInFlight
	}
	d.abort()
	return nil
}

// Recover marks records left in the updating state by a process that is no
// longer running as update-failed so they can be retried. Attempts that hold
// their cargo lock, here or in another process, are left alone. It returns
// the ids that were recovered.
func (o *Orchestrator) Recover(ctx context.Context) ([]string, error) {
	records, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list install records: %w", err)
	}

	var recovered []string
	for _, rec := range records {
		if rec.Lifecycle != types.LifecycleUpdating {
			continue
		}
		if err := o.tryLock(rec.ID); err != nil {
			var cerr *ConcurrencyError
			if errors.As(err, &cerr) {
				o.log.WithField("cargo", rec.ID).Debug("Update still running, not recovering it")
				continue
			}
			return recovered, err
		}

		rec.Lifecycle = types.LifecycleUpdateFailed
		if rec.Pending != nil {
			rec.Pending.LastError = "interrupted before completion"
		}
		err := o.store.Put(ctx, rec)
		o.unlock(rec.ID)
		if err != nil {
			return recovered, fmt.Errorf("failed to recover %s: %w", rec.ID, err)
		}
		o.log.WithField("cargo", rec.ID).Info("Marked interrupted update as failed")
		recovered = append(recovered, rec.ID)
	}
	return recovered, nil
}

// Close aborts running downloads and waits for them to settle.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, d := range o.inflight {
		d.abort()
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

// persist writes a record with a context that survives abort.
func (o *Orchestrator) persist(ctx context.Context, rec *state.Record) error {
	if err := o.store.Put(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("failed to write install record: %w", err)
	}
	return nil
}

// aborted reports whether err ended the attempt because of Abort or Close.
func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted))
}
