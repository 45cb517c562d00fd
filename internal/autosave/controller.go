// Package autosave implements background persistence for the note editor:
// a buffered copy of the latest editor state, an interval-driven save loop,
// and conflict arbitration against the server copy.
//
// The controller owns every status transition. It guarantees at most one
// persistence call in flight, never drops a failed save silently, and mirrors
// each buffered update into the draft recovery store so an unsaved edit
// survives a crash.
package autosave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"carelink/api/internal/recovery"
)

// Status is the save lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSaving   Status = "saving"
	StatusSaved    Status = "saved"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

// DefaultInterval is how often the save loop checks for unsaved changes.
const DefaultInterval = 30 * time.Second

// ConflictError is returned by a SaveFunc when the server copy has moved past
// the version the editor last fetched. It carries the remote state so the
// caller can merge or overwrite.
type ConflictError struct {
	RemoteState   string
	RemoteVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("save conflict: remote is at version %d", e.RemoteVersion)
}

// SaveFunc persists serialized content on top of baseVersion and returns the
// new version. It returns a *ConflictError when the remote copy is newer.
type SaveFunc func(ctx context.Context, state string, baseVersion int64) (int64, error)

// ResolveFunc arbitrates a conflict and returns the state to submit. An empty
// result falls back to the local state (prefer-local), so a resolver that has
// nothing to contribute cannot silently discard the in-progress edit.
type ResolveFunc func(ctx context.Context, local, remote string) (string, error)

// BackupStore is the slice of the draft recovery store the controller uses.
type BackupStore interface {
	SaveBackup(ctx context.Context, key recovery.Key, state string) error
	ClearBackup(ctx context.Context, key recovery.Key) error
}

// Options configures a Controller. Save is required; everything else is
// optional. Identity (Key) ties the controller and its backups to one content
// item and one user, with no package-level state.
type Options struct {
	Key          recovery.Key
	Interval     time.Duration
	InitialState string
	BaseVersion  int64
	Save         SaveFunc
	Resolve      ResolveFunc
	OnError      func(error)
	Backup       BackupStore
}

// State is a point-in-time snapshot of the controller.
type State struct {
	Status      Status
	Version     int64
	Dirty       bool
	LastSavedAt time.Time
	LastError   string
}

type saveAttempt struct {
	done chan struct{}
	err  error
}

// Controller runs the auto-save loop for one editor session.
type Controller struct {
	key      recovery.Key
	interval time.Duration
	save     SaveFunc
	resolve  ResolveFunc
	onError  func(error)
	backup   BackupStore

	// backupMu serializes recovery-store writes. The post-save clear
	// rechecks the buffer while holding it, so an edit mirrored by a racing
	// UpdateData can never have its backup deleted. Never acquired while
	// holding c.mu.
	backupMu sync.Mutex

	mu            sync.Mutex
	started       bool
	closed        bool
	buffered      string
	persisted     string
	version       int64
	status        Status
	lastSavedAt   time.Time
	lastError     string
	remoteState   string
	remoteVersion int64
	inflight      *saveAttempt
	stop          chan struct{}
}

// New creates a controller. The initial state seeds both the buffered and the
// persisted copy: a freshly opened editor has nothing to save.
func New(opts Options) (*Controller, error) {
	if opts.Save == nil {
		return nil, fmt.Errorf("autosave: Save callback is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		key:       opts.Key,
		interval:  interval,
		save:      opts.Save,
		resolve:   opts.Resolve,
		onError:   opts.OnError,
		backup:    opts.Backup,
		buffered:  opts.InitialState,
		persisted: opts.InitialState,
		version:   opts.BaseVersion,
		status:    StatusIdle,
		stop:      make(chan struct{}),
	}, nil
}

// Start launches the interval loop. Calling Start again on the same
// controller is a no-op, which guards against duplicate timers.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.loop(ctx)
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick performs one timer-driven save pass: save only if the buffer differs
// from the last persisted copy and no save is already in flight.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.inflight != nil || c.buffered == c.persisted || c.status == StatusConflict {
		c.mu.Unlock()
		return
	}
	attempt := c.beginAttemptLocked()
	state := c.buffered
	base := c.version
	c.mu.Unlock()

	c.runSave(ctx, attempt, state, base)
}

// UpdateData replaces the buffered copy with the latest editor state and
// mirrors it to the recovery store. It never triggers a network save; that is
// the timer's job. Backup failures degrade gracefully: auto-save itself keeps
// working and the error only reaches the optional error callback.
func (c *Controller) UpdateData(ctx context.Context, state string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.buffered = state
	backup := c.backup
	key := c.key
	c.mu.Unlock()

	if backup != nil {
		c.backupMu.Lock()
		err := backup.SaveBackup(ctx, key, state)
		c.backupMu.Unlock()
		if err != nil {
			c.reportError(fmt.Errorf("mirror draft backup: %w", err))
		}
	}
}

// Save persists the buffered copy immediately. If a save is already in
// flight, the call joins it and returns that save's outcome rather than
// firing a second request. A clean buffer saves nothing and returns nil.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if attempt := c.inflight; attempt != nil {
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.buffered == c.persisted {
		c.mu.Unlock()
		return nil
	}
	attempt := c.beginAttemptLocked()
	state := c.buffered
	base := c.version
	c.mu.Unlock()

	c.runSave(ctx, attempt, state, base)
	return attempt.err
}

// beginAttemptLocked marks a save as in flight. Caller holds c.mu.
func (c *Controller) beginAttemptLocked() *saveAttempt {
	attempt := &saveAttempt{done: make(chan struct{})}
	c.inflight = attempt
	c.status = StatusSaving
	return attempt
}

// runSave executes the persistence call with a snapshot of the buffer. Edits
// arriving while it runs land in the buffer and are picked up by the next
// tick; they are never interleaved into the in-flight payload.
func (c *Controller) runSave(ctx context.Context, attempt *saveAttempt, state string, base int64) {
	version, err := c.save(ctx, state, base)

	c.mu.Lock()
	c.inflight = nil
	if c.closed {
		// The editor is gone; the save completed but its result is discarded.
		attempt.err = err
		c.mu.Unlock()
		close(attempt.done)
		return
	}

	switch saveErr := err.(type) {
	case nil:
		c.version = version
		c.persisted = state
		c.status = StatusSaved
		c.lastSavedAt = time.Now()
		c.lastError = ""
		c.remoteState = ""
		c.remoteVersion = 0
		backup := c.backup
		key := c.key
		c.mu.Unlock()
		if backup != nil {
			c.clearBackupIfClean(ctx, backup, key, state)
		}
	case *ConflictError:
		c.status = StatusConflict
		c.remoteState = saveErr.RemoteState
		c.remoteVersion = saveErr.RemoteVersion
		c.mu.Unlock()
	default:
		c.status = StatusError
		c.lastError = err.Error()
		c.mu.Unlock()
		c.reportError(err)
	}

	attempt.err = err
	close(attempt.done)
}

// clearBackupIfClean removes the draft backup after a confirmed save, unless
// a newer edit has already superseded the saved snapshot. The buffer recheck
// and the clear both happen under backupMu: an UpdateData racing with the
// save either lands before the recheck (the clear is skipped) or blocks until
// the clear finishes and re-mirrors its state afterwards.
func (c *Controller) clearBackupIfClean(ctx context.Context, backup BackupStore, key recovery.Key, state string) {
	c.backupMu.Lock()
	defer c.backupMu.Unlock()

	c.mu.Lock()
	clean := c.buffered == state
	c.mu.Unlock()
	if !clean {
		return
	}
	if err := backup.ClearBackup(ctx, key); err != nil {
		c.reportError(fmt.Errorf("clear draft backup: %w", err))
	}
}

// Conflict returns the local and remote states of a pending conflict.
func (c *Controller) Conflict() (local, remote string, remoteVersion int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConflict {
		return "", "", 0, false
	}
	return c.buffered, c.remoteState, c.remoteVersion, true
}

// ResolveConflict arbitrates a pending conflict and re-submits on top of the
// remote version. With no resolver configured the local edit wins; a resolver
// may return merged state instead. Either way the remote copy was surfaced,
// so nothing is discarded silently.
func (c *Controller) ResolveConflict(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusConflict {
		c.mu.Unlock()
		return fmt.Errorf("autosave: no conflict to resolve")
	}
	local := c.buffered
	remote := c.remoteState
	base := c.remoteVersion
	resolve := c.resolve
	c.mu.Unlock()

	resolved := local
	if resolve != nil {
		merged, err := resolve(ctx, local, remote)
		if err != nil {
			c.mu.Lock()
			c.status = StatusError
			c.lastError = err.Error()
			c.mu.Unlock()
			c.reportError(fmt.Errorf("resolve conflict: %w", err))
			return err
		}
		if merged != "" {
			resolved = merged
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.buffered = resolved
	attempt := c.beginAttemptLocked()
	c.mu.Unlock()

	c.runSave(ctx, attempt, resolved, base)
	return attempt.err
}

// State returns a snapshot of the controller's status.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Status:      c.status,
		Version:     c.version,
		Dirty:       c.buffered != c.persisted,
		LastSavedAt: c.lastSavedAt,
		LastError:   c.lastError,
	}
}

// Buffered returns the current buffered editor state.
func (c *Controller) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// Close stops the timer. An in-flight save is allowed to complete but its
// result is discarded. Close is idempotent and never blocks on the save.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.stop)
}

func (c *Controller) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
