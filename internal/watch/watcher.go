// Package watch polls the backend configuration store and tells subscribers
// when another client has changed it.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "ownclock/internal/log"
	"ownclock/internal/model"
	"ownclock/internal/sched"
)

// ErrRunning is returned by Start when the watcher is already watching.
var ErrRunning = errors.New("watch: already running")

// ErrStoredLocally is returned by Save, together with the saved snapshot,
// when the store rejected the write and it was kept in the local copy.
var ErrStoredLocally = errors.New("watch: backend unavailable, config kept locally")

// Store is the remote configuration store.
type Store interface {
	FetchConfig(ctx context.Context) (model.ConfigSnapshot, error)
	SaveConfig(ctx context.Context, s model.ConfigSnapshot) error
}

// Subscriber receives every snapshot that differs from the previous one.
// A returned error (or a panic) is logged and does not affect other
// subscribers.
type Subscriber func(ctx context.Context, s model.ConfigSnapshot) error

// Options tunes a Watcher. The zero value is usable.
type Options struct {
	// FetchTimeout bounds a single poll. Zero leaves only the task's own
	// cancellation.
	FetchTimeout time.Duration
	// Now stamps LastUpdate on Save. Defaults to time.Now.
	Now func() time.Time
	// Local, when set, mirrors every snapshot seen and takes saves the
	// store rejects.
	Local *LocalCopy
}

type subscription struct {
	id   int
	name string
	fn   Subscriber
}

// Watcher detects configuration changes made by other clients.
//
// State machine: Idle -> Watching (Start) -> Idle (Stop). The baseline
// fingerprint survives Stop/Start, so a restart does not re-announce the
// current configuration.
type Watcher struct {
	store Store
	opts  Options

	mu          sync.Mutex
	baseline    Fingerprint
	hasBaseline bool
	snapshot    model.ConfigSnapshot
	subs        []subscription
	nextID      int
	task        *sched.Task

	// restored is set when snapshot came from the local copy; pending while
	// a save only exists there. localFP is what the copy holds.
	restored bool
	pending  bool
	localFP  Fingerprint

	// epoch changes on every Start and Stop; a cycle that began in an older
	// epoch is discarded.
	epoch uint64
	// writeGen changes when a local write begins, is applied or ends; a
	// cycle whose fetch overlapped one is discarded.
	writeGen uint64
	writing  int
}

// New returns an idle Watcher backed by store.
func New(store Store, opts Options) *Watcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watcher{store: store, opts: opts}
}

// Subscribe registers fn and returns a func that removes it.
func (w *Watcher) Subscribe(name string, fn Subscriber) (unsubscribe func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := w.nextID
	w.subs = append(w.subs, subscription{id: id, name: name, fn: fn})

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.subs {
			if s.id == id {
				w.subs = append(w.subs[:i:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

// Start begins polling every interval.
func (w *Watcher) Start(interval time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.task != nil {
		return ErrRunning
	}

	w.epoch++
	epoch := w.epoch
	task, err := sched.Every("config-watch", interval, func(ctx context.Context) {
		_, _ = w.cycle(ctx, epoch)
	})
	if err != nil {
		return err
	}
	w.task = task

	appLog.Info("config watcher started", "interval", interval.String())
	return nil
}

// Stop ends polling. No tick runs after Stop returns, and a fetch still in
// flight is cancelled and its result ignored. Stop on an idle watcher is a
// no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	task := w.task
	w.task = nil
	if task != nil {
		w.epoch++
	}
	w.mu.Unlock()

	if task == nil {
		return
	}
	task.Stop()
	appLog.Info("config watcher stopped")
}

// Running reports whether the watcher is in the Watching state.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.task != nil
}

// Poll runs one detection cycle now, independent of the schedule. It
// reports whether subscribers were notified. A fetch error is returned after
// the cycle has been skipped.
func (w *Watcher) Poll(ctx context.Context) (bool, error) {
	w.mu.Lock()
	epoch := w.epoch
	w.mu.Unlock()
	return w.cycle(ctx, epoch)
}

// Restore loads the local copy as the current snapshot when nothing has
// been fetched yet. It reports whether a copy was loaded; a missing copy is
// not an error. The baseline is left unset, so the first fetch still only
// establishes it.
func (w *Watcher) Restore() (bool, error) {
	if w.opts.Local == nil {
		return false, nil
	}
	st, err := w.opts.Local.Load()
	if err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasBaseline {
		return false, nil
	}
	w.snapshot = st.Config
	w.restored = true
	w.pending = st.Pending
	w.localFP = Compute(st.Config)
	appLog.Info("config restored from local copy", "saved_at", st.SavedAt.Format(time.RFC3339), "pending", st.Pending)
	return true, nil
}

// Current reads the configuration from the store now. When the store cannot
// be reached it returns the last snapshot seen (or restored) instead, and an
// error only if there is none. Baseline and subscribers are not touched.
func (w *Watcher) Current(ctx context.Context) (model.ConfigSnapshot, error) {
	fetchCtx := ctx
	if w.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, w.opts.FetchTimeout)
		defer cancel()
	}

	snap, err := w.store.FetchConfig(fetchCtx)
	if err == nil {
		return snap.WithDefaults(), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.hasBaseline || w.restored {
		appLog.Warn("config read failed; using last known config", "err", err)
		return w.snapshot.WithDefaults(), nil
	}
	return model.ConfigSnapshot{}, fmt.Errorf("watch: fetch config: %w", err)
}

// Snapshot returns the last snapshot seen, if any.
func (w *Watcher) Snapshot() (model.ConfigSnapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot.WithDefaults(), w.hasBaseline
}

// Fingerprint returns the current baseline fingerprint, if any.
func (w *Watcher) Fingerprint() (Fingerprint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.baseline, w.hasBaseline
}

// ApplyLocalWrite records s, which this process has just written, as the
// baseline so the next poll does not report it as a remote change.
func (w *Watcher) ApplyLocalWrite(s model.ConfigSnapshot) {
	s = s.WithDefaults()
	fp := Compute(s)

	w.mu.Lock()
	w.baseline = fp
	w.hasBaseline = true
	w.snapshot = s
	w.writeGen++
	w.mu.Unlock()

	appLog.Debug("config baseline set by local write", "fingerprint", string(fp))
}

// Save writes s to the store and, on success, makes it the baseline. Polls
// that overlap the write are discarded, so neither the old nor the new
// content is reported back as a remote change.
//
// With a local copy configured, a failed write is kept there and becomes the
// baseline; Save then returns s with ErrStoredLocally. The next successful
// poll brings the store's content back, and it wins.
func (w *Watcher) Save(ctx context.Context, s model.ConfigSnapshot) (model.ConfigSnapshot, error) {
	s = s.WithDefaults()
	s.LastUpdate = w.opts.Now().Format(time.RFC3339)

	w.mu.Lock()
	w.writing++
	w.writeGen++
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.writing--
		w.writeGen++
		w.mu.Unlock()
	}()

	if err := w.store.SaveConfig(ctx, s); err != nil {
		if w.opts.Local == nil {
			return model.ConfigSnapshot{}, fmt.Errorf("watch: save config: %w", err)
		}
		if lerr := w.opts.Local.Store(s, true); lerr != nil {
			return model.ConfigSnapshot{}, fmt.Errorf("watch: save config: %w", errors.Join(err, lerr))
		}
		appLog.Warn("config save failed; kept in local copy", "err", err)
		w.ApplyLocalWrite(s)
		w.mu.Lock()
		w.pending = true
		w.localFP = Compute(s)
		w.mu.Unlock()
		return s, ErrStoredLocally
	}
	w.ApplyLocalWrite(s)
	w.mirror(s, Compute(s), false)
	return s, nil
}

// mirror writes s to the local copy unless it already holds fp. force
// rewrites it anyway, which clears a pending flag.
func (w *Watcher) mirror(s model.ConfigSnapshot, fp Fingerprint, force bool) {
	if w.opts.Local == nil {
		return
	}
	w.mu.Lock()
	if !force && w.localFP == fp {
		w.mu.Unlock()
		return
	}
	w.localFP = fp
	w.mu.Unlock()

	if err := w.opts.Local.Store(s, false); err != nil {
		appLog.Error("config local copy not updated", err)
	}
}

func (w *Watcher) cycle(ctx context.Context, epoch uint64) (bool, error) {
	w.mu.Lock()
	gen := w.writeGen
	pending := w.writing
	w.mu.Unlock()

	if pending > 0 {
		appLog.Debug("config poll skipped: local write in progress")
		return false, nil
	}

	fetchCtx := ctx
	if w.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, w.opts.FetchTimeout)
		defer cancel()
	}

	snap, err := w.store.FetchConfig(fetchCtx)
	if err != nil {
		appLog.Warn("config poll failed; cycle skipped", "err", err)
		return false, err
	}
	snap = snap.WithDefaults()
	fp := Compute(snap)

	w.mu.Lock()
	if w.epoch != epoch || ctx.Err() != nil {
		w.mu.Unlock()
		appLog.Debug("config poll result dropped: watcher stopped")
		return false, nil
	}
	if w.writeGen != gen || w.writing > 0 {
		w.mu.Unlock()
		appLog.Debug("config poll result dropped: overlapped a local write")
		return false, nil
	}
	superseded := w.pending
	w.pending = false
	w.restored = false
	if superseded {
		appLog.Info("backend reachable again; its config replaces the local save")
	}
	if !w.hasBaseline {
		w.baseline = fp
		w.hasBaseline = true
		w.snapshot = snap
		w.mu.Unlock()
		appLog.Info("config baseline established", "fingerprint", string(fp))
		w.mirror(snap, fp, superseded)
		return false, nil
	}
	w.snapshot = snap
	if w.baseline == fp {
		w.mu.Unlock()
		w.mirror(snap, fp, superseded)
		return false, nil
	}

	// Record the new baseline before anyone hears about it: a subscriber
	// that saves from its callback must not trigger a second fan-out.
	prev := w.baseline
	w.baseline = fp
	subs := append([]subscription(nil), w.subs...)
	w.mu.Unlock()

	w.mirror(snap, fp, superseded)

	appLog.Info("remote config change detected", "from", string(prev), "to", string(fp), "subscribers", len(subs))
	for _, s := range subs {
		if err := deliver(ctx, s, snap); err != nil {
			appLog.Error("config subscriber failed", err, "subscriber", s.name)
		}
	}
	return true, nil
}

func deliver(ctx context.Context, s subscription, snap model.ConfigSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, snap.WithDefaults())
}
