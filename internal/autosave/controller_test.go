package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"carelink/api/internal/recovery"
)

// fakeSaver records persistence calls and serves scripted outcomes.
type fakeSaver struct {
	mu      sync.Mutex
	calls   []string
	bases   []int64
	version int64
	fail    error
	block   chan struct{}
}

func (f *fakeSaver) save(ctx context.Context, state string, base int64) (int64, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, state)
	f.bases = append(f.bases, base)
	if f.fail != nil {
		return 0, f.fail
	}
	f.version++
	return f.version, nil
}

func (f *fakeSaver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSaver) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

// fakeBackup records draft mirror writes and clears.
type fakeBackup struct {
	mu     sync.Mutex
	states []string
	clears int
}

func (f *fakeBackup) SaveBackup(ctx context.Context, key recovery.Key, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func (f *fakeBackup) ClearBackup(ctx context.Context, key recovery.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

// draftStore models the recovery store as a single draft slot and lets a test
// pause inside ClearBackup to interleave a concurrent edit.
type draftStore struct {
	mu           sync.Mutex
	value        string
	stored       bool
	clearEntered chan struct{}
	clearRelease chan struct{}
}

func (s *draftStore) SaveBackup(ctx context.Context, key recovery.Key, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.stored = state, true
	return nil
}

func (s *draftStore) ClearBackup(ctx context.Context, key recovery.Key) error {
	if s.clearEntered != nil {
		close(s.clearEntered)
		<-s.clearRelease
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.stored = "", false
	return nil
}

func (s *draftStore) get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.stored
}

func newTestController(t *testing.T, opts Options) *Controller {
	t.Helper()
	if opts.Key == (recovery.Key{}) {
		opts.Key = recovery.Key{Namespace: "note", ContentID: "nt_1", UserID: "us_1"}
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewRequiresSaveCallback(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing Save callback")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save, Interval: 10 * time.Millisecond})
	defer c.Close()

	ctx := context.Background()
	c.Start(ctx)
	c.Start(ctx)
	c.Start(ctx)

	c.UpdateData(ctx, "v1")
	time.Sleep(25 * time.Millisecond)

	// Duplicate Start must not spawn duplicate timers; one dirty buffer means
	// one save regardless of how often Start was called.
	if got := saver.callCount(); got != 1 {
		t.Errorf("save calls = %d, want 1", got)
	}
}

func TestTickCoalescesUpdates(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save})

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		c.UpdateData(ctx, fmt.Sprintf("update-%d", i))
	}
	c.tick(ctx)

	if got := saver.callCount(); got != 1 {
		t.Fatalf("save calls = %d, want 1", got)
	}
	if got := saver.lastCall(); got != "update-5" {
		t.Errorf("saved state = %q, want the last update", got)
	}
}

func TestTickSkipsCleanBuffer(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save, InitialState: "seed"})

	c.tick(context.Background())

	if got := saver.callCount(); got != 0 {
		t.Errorf("save calls on clean buffer = %d, want 0", got)
	}
	if st := c.State(); st.Status != StatusIdle {
		t.Errorf("status = %s, want idle", st.Status)
	}
}

func TestSaveSuccessTransitions(t *testing.T) {
	saver := &fakeSaver{}
	backup := &fakeBackup{}
	c := newTestController(t, Options{Save: saver.save, Backup: backup, BaseVersion: 7})

	ctx := context.Background()
	c.UpdateData(ctx, "hello")
	if err := c.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st := c.State()
	if st.Status != StatusSaved {
		t.Errorf("status = %s, want saved", st.Status)
	}
	if st.Dirty {
		t.Error("buffer still dirty after successful save")
	}
	if time.Since(st.LastSavedAt) > time.Minute {
		t.Errorf("LastSavedAt not set: %v", st.LastSavedAt)
	}
	if saver.bases[0] != 7 {
		t.Errorf("save base version = %d, want 7", saver.bases[0])
	}

	backup.mu.Lock()
	defer backup.mu.Unlock()
	if len(backup.states) != 1 || backup.states[0] != "hello" {
		t.Errorf("backup mirror calls = %v, want one write of %q", backup.states, "hello")
	}
	if backup.clears != 1 {
		t.Errorf("backup clears = %d, want 1 after confirmed save", backup.clears)
	}
}

func TestSaveNothingToSave(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save, InitialState: "seed"})

	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if got := saver.callCount(); got != 0 {
		t.Errorf("save calls = %d, want 0 for clean buffer", got)
	}
}

func TestAtMostOneSaveInFlight(t *testing.T) {
	saver := &fakeSaver{block: make(chan struct{})}
	c := newTestController(t, Options{Save: saver.save})

	ctx := context.Background()
	c.UpdateData(ctx, "payload")

	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Save(ctx) }()

	// Wait until the first save is in flight
	deadline := time.After(time.Second)
	for {
		if st := c.State(); st.Status == StatusSaving {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first save never entered saving state")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	secondErr := make(chan error, 1)
	go func() { secondErr <- c.Save(ctx) }()
	time.Sleep(10 * time.Millisecond)
	close(saver.block)

	if err := <-firstErr; err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if err := <-secondErr; err != nil {
		t.Fatalf("joined Save reported different outcome: %v", err)
	}
	if got := saver.callCount(); got != 1 {
		t.Errorf("save calls = %d, want exactly 1", got)
	}
}

func TestSaveErrorRetainedUntilSuccess(t *testing.T) {
	saver := &fakeSaver{fail: errors.New("network down")}
	var reported []error
	c := newTestController(t, Options{
		Save:    saver.save,
		OnError: func(err error) { reported = append(reported, err) },
	})

	ctx := context.Background()
	c.UpdateData(ctx, "draft")
	if err := c.Save(ctx); err == nil {
		t.Fatal("expected save error")
	}

	st := c.State()
	if st.Status != StatusError {
		t.Errorf("status = %s, want error", st.Status)
	}
	if st.LastError == "" {
		t.Error("LastError empty after failed save")
	}
	if !st.Dirty {
		t.Error("buffer must be retained for retry after a failed save")
	}
	if len(reported) == 0 {
		t.Error("error callback not invoked")
	}

	// Passive retry: the next tick picks the same buffer up again
	saver.mu.Lock()
	saver.fail = nil
	saver.mu.Unlock()
	c.tick(ctx)

	st = c.State()
	if st.Status != StatusSaved {
		t.Errorf("status after retry = %s, want saved", st.Status)
	}
	if st.LastError != "" {
		t.Errorf("LastError not cleared after recovery: %q", st.LastError)
	}
	if got := saver.callCount(); got != 2 {
		t.Errorf("save calls = %d, want 2", got)
	}
}

func TestConflictSurfacesBothVersions(t *testing.T) {
	conflict := &ConflictError{RemoteState: "remote edit", RemoteVersion: 12}
	saver := &fakeSaver{fail: conflict}
	c := newTestController(t, Options{Save: saver.save, BaseVersion: 3})

	ctx := context.Background()
	c.UpdateData(ctx, "local edit")
	err := c.Save(ctx)

	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("Save returned %v, want *ConflictError", err)
	}
	if st := c.State(); st.Status != StatusConflict {
		t.Errorf("status = %s, want conflict", st.Status)
	}

	local, remote, remoteVersion, ok := c.Conflict()
	if !ok {
		t.Fatal("Conflict() reported no pending conflict")
	}
	if local != "local edit" || remote != "remote edit" || remoteVersion != 12 {
		t.Errorf("conflict payload = (%q, %q, %d)", local, remote, remoteVersion)
	}

	// Timer ticks must not hammer the server while a conflict is pending
	c.tick(ctx)
	if got := saver.callCount(); got != 1 {
		t.Errorf("save calls during pending conflict = %d, want 1", got)
	}
}

func TestResolveConflictPrefersLocalByDefault(t *testing.T) {
	conflict := &ConflictError{RemoteState: "remote edit", RemoteVersion: 12}
	saver := &fakeSaver{fail: conflict, version: 12}
	c := newTestController(t, Options{Save: saver.save, BaseVersion: 3})

	ctx := context.Background()
	c.UpdateData(ctx, "local edit")
	_ = c.Save(ctx)

	saver.mu.Lock()
	saver.fail = nil
	saver.mu.Unlock()

	if err := c.ResolveConflict(ctx); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}

	if got := saver.lastCall(); got != "local edit" {
		t.Errorf("resolved save state = %q, want local edit", got)
	}
	// The re-submit must build on the remote version, not the stale base
	if base := saver.bases[len(saver.bases)-1]; base != 12 {
		t.Errorf("resolved save base = %d, want remote version 12", base)
	}
	if st := c.State(); st.Status != StatusSaved {
		t.Errorf("status after resolution = %s, want saved", st.Status)
	}
	if _, _, _, ok := c.Conflict(); ok {
		t.Error("conflict still pending after resolution")
	}
}

func TestResolveConflictUsesResolver(t *testing.T) {
	conflict := &ConflictError{RemoteState: "remote edit", RemoteVersion: 5}
	saver := &fakeSaver{fail: conflict, version: 5}
	c := newTestController(t, Options{
		Save: saver.save,
		Resolve: func(ctx context.Context, local, remote string) (string, error) {
			return local + " + " + remote, nil
		},
	})

	ctx := context.Background()
	c.UpdateData(ctx, "local edit")
	_ = c.Save(ctx)

	saver.mu.Lock()
	saver.fail = nil
	saver.mu.Unlock()

	if err := c.ResolveConflict(ctx); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}
	if got := saver.lastCall(); got != "local edit + remote edit" {
		t.Errorf("resolved save state = %q, want merged state", got)
	}
}

func TestResolveConflictEmptyResolverResultFallsBackToLocal(t *testing.T) {
	conflict := &ConflictError{RemoteState: "remote edit", RemoteVersion: 5}
	saver := &fakeSaver{fail: conflict, version: 5}
	c := newTestController(t, Options{
		Save:    saver.save,
		Resolve: func(ctx context.Context, local, remote string) (string, error) { return "", nil },
	})

	ctx := context.Background()
	c.UpdateData(ctx, "local edit")
	_ = c.Save(ctx)

	saver.mu.Lock()
	saver.fail = nil
	saver.mu.Unlock()

	if err := c.ResolveConflict(ctx); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}
	if got := saver.lastCall(); got != "local edit" {
		t.Errorf("resolved save state = %q, want local fallback", got)
	}
}

func TestResolveConflictWithoutConflict(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save})
	if err := c.ResolveConflict(context.Background()); err == nil {
		t.Fatal("expected error when no conflict is pending")
	}
}

func TestUpdatesDuringInflightSaveLandInNextTick(t *testing.T) {
	saver := &fakeSaver{block: make(chan struct{})}
	c := newTestController(t, Options{Save: saver.save})

	ctx := context.Background()
	c.UpdateData(ctx, "first")

	done := make(chan error, 1)
	go func() { done <- c.Save(ctx) }()

	deadline := time.After(time.Second)
	for {
		if st := c.State(); st.Status == StatusSaving {
			break
		}
		select {
		case <-deadline:
			t.Fatal("save never entered saving state")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Edit arrives mid-save: must not leak into the in-flight payload
	c.UpdateData(ctx, "second")
	close(saver.block)
	if err := <-done; err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := saver.lastCall(); got != "first" {
		t.Errorf("in-flight save carried %q, want the snapshot %q", got, "first")
	}
	if st := c.State(); !st.Dirty {
		t.Error("mid-save edit lost: buffer should still be dirty")
	}

	c.tick(ctx)
	if got := saver.lastCall(); got != "second" {
		t.Errorf("next tick saved %q, want the mid-save edit", got)
	}
}

func TestConfirmedSaveKeepsBackupOfRacingEdit(t *testing.T) {
	// An edit arriving while the post-save backup clear is underway must keep
	// its freshly mirrored draft; the clear may only remove the draft when the
	// buffer still matches the saved snapshot.
	store := &draftStore{
		clearEntered: make(chan struct{}),
		clearRelease: make(chan struct{}),
	}
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save, Backup: store})

	ctx := context.Background()
	c.UpdateData(ctx, "Hello")

	saveDone := make(chan error, 1)
	go func() { saveDone <- c.Save(ctx) }()

	// The save succeeded and the controller is about to clear the draft.
	<-store.clearEntered

	updateDone := make(chan struct{})
	go func() {
		c.UpdateData(ctx, "Hello world")
		close(updateDone)
	}()
	time.Sleep(10 * time.Millisecond)
	close(store.clearRelease)

	if err := <-saveDone; err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	<-updateDone

	if got, ok := store.get(); !ok || got != "Hello world" {
		t.Errorf("draft after racing edit = (%q, %v), want %q kept", got, ok, "Hello world")
	}
	if st := c.State(); !st.Dirty {
		t.Error("racing edit lost: buffer should be dirty")
	}
}

func TestCloseStopsTimer(t *testing.T) {
	saver := &fakeSaver{}
	c := newTestController(t, Options{Save: saver.save, Interval: 5 * time.Millisecond})

	ctx := context.Background()
	c.Start(ctx)
	c.UpdateData(ctx, "v1")
	time.Sleep(15 * time.Millisecond)
	c.Close()

	before := saver.callCount()
	c.UpdateData(ctx, "v2")
	time.Sleep(20 * time.Millisecond)

	if got := saver.callCount(); got != before {
		t.Errorf("save calls after Close = %d, want %d", got, before)
	}

	// Close is idempotent
	c.Close()
}

func TestScenarioTypeSaveFailRecover(t *testing.T) {
	// User types "Hello", autosave succeeds; user types "Hello world", the
	// network fails; the draft backup still holds "Hello world" for recovery.
	saver := &fakeSaver{}
	backup := &fakeBackup{}
	c := newTestController(t, Options{Save: saver.save, Backup: backup})

	ctx := context.Background()
	c.UpdateData(ctx, "Hello")
	c.tick(ctx)

	st := c.State()
	if st.Status != StatusSaved || st.LastSavedAt.IsZero() {
		t.Fatalf("after first save: status=%s lastSavedAt=%v", st.Status, st.LastSavedAt)
	}

	saver.mu.Lock()
	saver.fail = errors.New("network error")
	saver.mu.Unlock()

	c.UpdateData(ctx, "Hello world")
	c.tick(ctx)

	if st := c.State(); st.Status != StatusError {
		t.Fatalf("after failed save: status=%s, want error", st.Status)
	}

	backup.mu.Lock()
	defer backup.mu.Unlock()
	if len(backup.states) == 0 || backup.states[len(backup.states)-1] != "Hello world" {
		t.Errorf("draft backup = %v, want latest state %q preserved", backup.states, "Hello world")
	}
}
