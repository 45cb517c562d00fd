package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carelink/api/internal/auth"
	"carelink/api/internal/config"
	"carelink/api/internal/editor"
	"carelink/api/internal/history"
	"carelink/api/internal/recovery"
	"carelink/api/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeStore struct {
	users       map[string]store.User
	families    map[string]store.Family
	members     map[string][]store.FamilyMember
	notes       map[string]store.Note
	threads     map[string]store.ForumThread
	replies     map[string][]store.ForumReply
	resources   map[string]store.Resource
	attachments map[string][]store.Attachment

	pingFn func(ctx context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		families:    make(map[string]store.Family),
		members:     make(map[string][]store.FamilyMember),
		notes:       make(map[string]store.Note),
		threads:     make(map[string]store.ForumThread),
		replies:     make(map[string][]store.ForumReply),
		resources:   make(map[string]store.Resource),
		attachments: make(map[string][]store.Attachment),
	}
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	items := make([]store.User, 0, len(f.users))
	for _, u := range f.users {
		items = append(items, u)
	}
	return items, nil
}

func (f *fakeStore) SetUserRole(ctx context.Context, id, role string) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	f.users[id] = u
	return nil
}

func (f *fakeStore) InsertFamily(ctx context.Context, item store.Family) error {
	f.families[item.ID] = item
	return nil
}

func (f *fakeStore) GetFamily(ctx context.Context, id string) (store.Family, error) {
	item, ok := f.families[id]
	if !ok {
		return store.Family{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListFamilies(ctx context.Context) ([]store.Family, error) {
	items := make([]store.Family, 0, len(f.families))
	for _, item := range f.families {
		items = append(items, item)
	}
	return items, nil
}

func (f *fakeStore) InsertFamilyMember(ctx context.Context, item store.FamilyMember) error {
	f.members[item.FamilyID] = append(f.members[item.FamilyID], item)
	return nil
}

func (f *fakeStore) ListFamilyMembers(ctx context.Context, familyID string) ([]store.FamilyMember, error) {
	return f.members[familyID], nil
}

func (f *fakeStore) InsertNote(ctx context.Context, item store.Note) error {
	item.UpdatedAt = time.Now()
	item.CreatedAt = item.UpdatedAt
	f.notes[item.ID] = item
	return nil
}

func (f *fakeStore) GetNote(ctx context.Context, id string) (store.Note, error) {
	item, ok := f.notes[id]
	if !ok {
		return store.Note{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListNotesByFamily(ctx context.Context, familyID string) ([]store.Note, error) {
	items := make([]store.Note, 0)
	for _, n := range f.notes {
		if n.FamilyID == familyID {
			items = append(items, n)
		}
	}
	return items, nil
}

func (f *fakeStore) UpdateNoteContent(ctx context.Context, id, content string, baseVersion int64, updatedBy string) (int64, error) {
	n, ok := f.notes[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	if n.Version != baseVersion {
		return 0, store.ErrVersionConflict
	}
	n.Content = content
	n.Version++
	n.UpdatedBy = updatedBy
	n.UpdatedAt = time.Now()
	f.notes[id] = n
	return n.Version, nil
}

func (f *fakeStore) UpdateNoteTitle(ctx context.Context, id, title, updatedBy string) error {
	n, ok := f.notes[id]
	if !ok {
		return sql.ErrNoRows
	}
	n.Title = title
	n.UpdatedBy = updatedBy
	f.notes[id] = n
	return nil
}

func (f *fakeStore) DeleteNote(ctx context.Context, id string) error {
	if _, ok := f.notes[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.notes, id)
	return nil
}

func (f *fakeStore) InsertForumThread(ctx context.Context, item store.ForumThread) error {
	f.threads[item.ID] = item
	return nil
}

func (f *fakeStore) GetForumThread(ctx context.Context, id string) (store.ForumThread, error) {
	item, ok := f.threads[id]
	if !ok {
		return store.ForumThread{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListForumThreads(ctx context.Context, category string) ([]store.ForumThread, error) {
	items := make([]store.ForumThread, 0)
	for _, t := range f.threads {
		if category == "" || t.Category == category {
			items = append(items, t)
		}
	}
	return items, nil
}

func (f *fakeStore) DeleteForumThread(ctx context.Context, id string) error {
	if _, ok := f.threads[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.threads, id)
	delete(f.replies, id)
	return nil
}

func (f *fakeStore) InsertForumReply(ctx context.Context, item store.ForumReply) error {
	f.replies[item.ThreadID] = append(f.replies[item.ThreadID], item)
	return nil
}

func (f *fakeStore) ListForumReplies(ctx context.Context, threadID string) ([]store.ForumReply, error) {
	return f.replies[threadID], nil
}

func (f *fakeStore) InsertResource(ctx context.Context, item store.Resource) error {
	f.resources[item.ID] = item
	return nil
}

func (f *fakeStore) GetResource(ctx context.Context, id string) (store.Resource, error) {
	item, ok := f.resources[id]
	if !ok {
		return store.Resource{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListResources(ctx context.Context, category string) ([]store.Resource, error) {
	items := make([]store.Resource, 0)
	for _, r := range f.resources {
		if category == "" || r.Category == category {
			items = append(items, r)
		}
	}
	return items, nil
}

func (f *fakeStore) UpdateResource(ctx context.Context, id, title, category, content, updatedBy string) error {
	r, ok := f.resources[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Title = title
	r.Category = category
	r.Content = content
	r.UpdatedBy = updatedBy
	f.resources[id] = r
	return nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, item store.Attachment) error {
	f.attachments[item.NoteID] = append(f.attachments[item.NoteID], item)
	return nil
}

func (f *fakeStore) ListNoteAttachments(ctx context.Context, noteID string) ([]store.Attachment, error) {
	return f.attachments[noteID], nil
}

func (f *fakeStore) SummaryCounts(ctx context.Context) (int, int, int, error) {
	return len(f.families), len(f.notes), len(f.threads), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSessions struct {
	sessions map[string]string // token hash -> user ID
	store    *fakeStore
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.store.GetUserByID(ctx, userID)
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

type fakeHistory struct {
	commits map[string][]history.Revision
	content map[string]history.Content // noteID -> latest
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		commits: make(map[string][]history.Revision),
		content: make(map[string]history.Content),
	}
}

func (f *fakeHistory) EnsureNoteRepo(noteID string, content history.Content, author string) error {
	if _, ok := f.commits[noteID]; ok {
		return nil
	}
	f.content[noteID] = content
	f.commits[noteID] = []history.Revision{{Hash: "rev0", Message: "Create note", Author: author, CreatedAt: time.Now()}}
	return nil
}

func (f *fakeHistory) CommitContent(noteID string, content history.Content, author, message string) (history.Revision, error) {
	f.content[noteID] = content
	rev := history.Revision{
		Hash:      fmt.Sprintf("rev%d", len(f.commits[noteID])),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.commits[noteID] = append([]history.Revision{rev}, f.commits[noteID]...)
	return rev, nil
}

func (f *fakeHistory) History(noteID string, limit int) ([]history.Revision, error) {
	revs := f.commits[noteID]
	if limit > 0 && len(revs) > limit {
		revs = revs[:limit]
	}
	return revs, nil
}

func (f *fakeHistory) GetContentByHash(noteID, hash string) (history.Content, error) {
	for _, rev := range f.commits[noteID] {
		if rev.Hash == hash {
			return f.content[noteID], nil
		}
	}
	return history.Content{}, fmt.Errorf("revision %s not found", hash)
}

type testEnv struct {
	server  *httptest.Server
	service *Service
	store   *fakeStore
	history *fakeHistory
	drafts  *recovery.RedisStore
	redis   *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	drafts := recovery.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	fs := newFakeStore()
	fs.users["us_member"] = store.User{ID: "us_member", DisplayName: "Jo Member", Email: "jo@example.com", Role: "member", IsEmailVerified: true}
	fs.users["us_admin"] = store.User{ID: "us_admin", DisplayName: "Avery Admin", Email: "avery@example.com", Role: "admin", IsEmailVerified: true}

	hist := newFakeHistory()

	cfg := config.Config{
		TokenSecret:      "test-secret",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       720 * time.Hour,
		AutosaveInterval: 30 * time.Second,
		DraftFreshness:   time.Hour,
	}

	svc := &Service{
		cfg:      cfg,
		store:    fs,
		sessions: &fakeSessions{sessions: make(map[string]string), store: fs},
		history:  hist,
		drafts:   drafts,
	}

	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, service: svc, store: fs, history: hist, drafts: drafts, redis: mr}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	user := e.store.users[userID]
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  "jti_test",
		Exp:  time.Now().Add(15 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		payload = nil
	}
	return resp, payload
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.do(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Errorf("health ok = %v", payload["ok"])
	}

	resp, _ = env.do(t, http.MethodGet, "/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}

	env.store.pingFn = func(ctx context.Context) error { return fmt.Errorf("connection refused") }
	resp, payload = env.do(t, http.MethodGet, "/api/ready", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready with broken database status = %d", resp.StatusCode)
	}
	if payload["status"] != "not_ready" {
		t.Errorf("ready payload status = %v", payload["status"])
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/families", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/families", "not-a-real.token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodGet, "/api/session", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session probe status = %d", resp.StatusCode)
	}
	if payload["authenticated"] != false {
		t.Errorf("session probe authenticated = %v", payload["authenticated"])
	}
}

func TestSessionRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.service.CreateSession(context.Background(), "us_member")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	resp, payload := env.do(t, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	if payload["refreshToken"] == session.RefreshToken {
		t.Error("refresh should rotate the refresh token")
	}

	// The original refresh token is revoked on rotation
	resp, _ = env.do(t, http.MethodPost, "/api/session/refresh", "", map[string]string{"refreshToken": session.RefreshToken})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused refresh token status = %d, want 401", resp.StatusCode)
	}
}

func TestNoteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	resp, family := env.do(t, http.MethodPost, "/api/families", token, map[string]string{"name": "The Riveras"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create family status = %d", resp.StatusCode)
	}
	familyID := family["id"].(string)

	resp, note := env.do(t, http.MethodPost, "/api/families/"+familyID+"/notes", token, map[string]string{"title": "Daily routine"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create note status = %d", resp.StatusCode)
	}
	noteID := note["id"].(string)
	if note["version"].(float64) != 1 {
		t.Errorf("new note version = %v, want 1", note["version"])
	}
	if len(env.history.commits[noteID]) != 1 {
		t.Errorf("note history should be initialized with one revision, got %d", len(env.history.commits[noteID]))
	}

	doc := editor.NewDocument()
	content := editor.Serialize(doc)
	resp, saved := env.do(t, http.MethodPut, "/api/notes/"+noteID+"/content", token, map[string]any{
		"content":     content,
		"baseVersion": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save content status = %d", resp.StatusCode)
	}
	if saved["version"].(float64) != 2 {
		t.Errorf("saved version = %v, want 2", saved["version"])
	}

	resp, histPayload := env.do(t, http.MethodGet, "/api/notes/"+noteID+"/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	revisions := histPayload["revisions"].([]any)
	if len(revisions) != 2 {
		t.Errorf("history revisions = %d, want 2", len(revisions))
	}

	resp, _ = env.do(t, http.MethodPut, "/api/notes/"+noteID+"/title", token, map[string]string{"title": "Morning routine"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update title status = %d", resp.StatusCode)
	}
	resp, got := env.do(t, http.MethodGet, "/api/notes/"+noteID, token, nil)
	if resp.StatusCode != http.StatusOK || got["title"] != "Morning routine" {
		t.Errorf("note after title update = %d %v", resp.StatusCode, got["title"])
	}
}

func TestSaveContentVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1", Name: "The Riveras"}
	env.store.notes["nt_1"] = store.Note{
		ID:        "nt_1",
		FamilyID:  "fm_1",
		Title:     "Daily routine",
		Content:   editor.Serialize(editor.NewDocument()),
		Version:   5,
		UpdatedBy: "Sam Volunteer",
	}

	content := editor.Serialize(editor.NewDocument())
	resp, payload := env.do(t, http.MethodPut, "/api/notes/nt_1/content", token, map[string]any{
		"content":     content,
		"baseVersion": 3,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale save status = %d, want 409", resp.StatusCode)
	}
	if payload["code"] != "VERSION_CONFLICT" {
		t.Errorf("conflict code = %v", payload["code"])
	}
	details, ok := payload["details"].(map[string]any)
	if !ok {
		t.Fatal("conflict response should carry details")
	}
	if details["remoteVersion"].(float64) != 5 {
		t.Errorf("remoteVersion = %v, want 5", details["remoteVersion"])
	}
	if details["remoteContent"] == "" || details["remoteContent"] == nil {
		t.Error("conflict details should include remote content")
	}
	if details["updatedBy"] != "Sam Volunteer" {
		t.Errorf("updatedBy = %v", details["updatedBy"])
	}

	// Note is untouched after a rejected save
	if env.store.notes["nt_1"].Version != 5 {
		t.Errorf("note version changed on conflict: %d", env.store.notes["nt_1"].Version)
	}

	resp, saved := env.do(t, http.MethodPut, "/api/notes/nt_1/content", token, map[string]any{
		"content":     content,
		"baseVersion": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fresh save status = %d", resp.StatusCode)
	}
	if saved["version"].(float64) != 6 {
		t.Errorf("version after fresh save = %v, want 6", saved["version"])
	}
}

func TestSaveContentRejectsInvalidDocument(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1", Name: "The Riveras"}
	env.store.notes["nt_1"] = store.Note{ID: "nt_1", FamilyID: "fm_1", Version: 1}

	resp, payload := env.do(t, http.MethodPut, "/api/notes/nt_1/content", token, map[string]any{
		"content":     "{not valid json",
		"baseVersion": 1,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid content status = %d, want 422", resp.StatusCode)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestDraftRecoveryFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1"}
	env.store.notes["nt_1"] = store.Note{ID: "nt_1", FamilyID: "fm_1", Version: 1, Content: editor.Serialize(editor.NewDocument())}

	resp, payload := env.do(t, http.MethodGet, "/api/notes/nt_1/draft", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get draft status = %d", resp.StatusCode)
	}
	if payload["exists"] != false {
		t.Errorf("draft exists before save = %v", payload["exists"])
	}

	state := editor.Serialize(editor.NewDocument())
	resp, _ = env.do(t, http.MethodPut, "/api/notes/nt_1/draft", token, map[string]string{"state": state})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save draft status = %d", resp.StatusCode)
	}

	resp, payload = env.do(t, http.MethodGet, "/api/notes/nt_1/draft", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get draft status = %d", resp.StatusCode)
	}
	if payload["exists"] != true || payload["offer"] != true {
		t.Errorf("fresh draft exists/offer = %v/%v, want true/true", payload["exists"], payload["offer"])
	}

	// Outside the freshness window the draft is kept but no longer offered
	env.drafts.SetFreshness(time.Nanosecond)
	resp, payload = env.do(t, http.MethodGet, "/api/notes/nt_1/draft", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get stale draft status = %d", resp.StatusCode)
	}
	if payload["exists"] != true {
		t.Error("stale draft should still be returned")
	}
	if payload["offer"] != false {
		t.Errorf("stale draft offer = %v, want false", payload["offer"])
	}
	env.drafts.SetFreshness(time.Hour)

	resp, _ = env.do(t, http.MethodDelete, "/api/notes/nt_1/draft", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dismiss draft status = %d", resp.StatusCode)
	}
	resp, payload = env.do(t, http.MethodGet, "/api/notes/nt_1/draft", token, nil)
	if resp.StatusCode != http.StatusOK || payload["exists"] != false {
		t.Errorf("draft after dismiss = %d %v", resp.StatusCode, payload["exists"])
	}
}

func TestSaveDraftRejectsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	resp, _ := env.do(t, http.MethodPut, "/api/notes/nt_1/draft", token, map[string]string{"state": "not json"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid draft state status = %d, want 422", resp.StatusCode)
	}
}

func TestConfirmedSaveClearsDraft(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1"}
	env.store.notes["nt_1"] = store.Note{ID: "nt_1", FamilyID: "fm_1", Version: 1}

	state := editor.Serialize(editor.NewDocument())
	resp, _ := env.do(t, http.MethodPut, "/api/notes/nt_1/draft", token, map[string]string{"state": state})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save draft status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/notes/nt_1/content", token, map[string]any{
		"content":     state,
		"baseVersion": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save content status = %d", resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodGet, "/api/notes/nt_1/draft", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get draft status = %d", resp.StatusCode)
	}
	if payload["exists"] != false {
		t.Error("confirmed save should clear the draft backup")
	}
}

func TestNoteContentAtRevision(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1"}
	env.store.notes["nt_1"] = store.Note{ID: "nt_1", FamilyID: "fm_1", Version: 1, Title: "Daily routine"}
	env.history.EnsureNoteRepo("nt_1", history.Content{Title: "Daily routine", Doc: json.RawMessage(`{"type":"doc","content":[]}`)}, "Jo Member")

	resp, payload := env.do(t, http.MethodGet, "/api/notes/nt_1/history/rev0", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("content at revision status = %d", resp.StatusCode)
	}
	if payload["title"] != "Daily routine" {
		t.Errorf("revision title = %v", payload["title"])
	}

	resp, _ = env.do(t, http.MethodGet, "/api/notes/nt_1/history/deadbeef", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown revision status = %d, want 404", resp.StatusCode)
	}
}

func TestForumThreadAndReplies(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	resp, thread := env.do(t, http.MethodPost, "/api/forum/threads", token, map[string]string{
		"title":    "Respite care tips",
		"category": "Respite",
		"body":     "What has worked for your family?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create thread status = %d", resp.StatusCode)
	}
	if thread["category"] != "respite" {
		t.Errorf("category should be normalized, got %v", thread["category"])
	}
	threadID := thread["id"].(string)

	resp, _ = env.do(t, http.MethodPost, "/api/forum/threads/"+threadID+"/replies", token, map[string]string{"body": "Short shifts help."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reply status = %d", resp.StatusCode)
	}

	resp, got := env.do(t, http.MethodGet, "/api/forum/threads/"+threadID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get thread status = %d", resp.StatusCode)
	}
	replies := got["replies"].([]any)
	if len(replies) != 1 {
		t.Errorf("replies = %d, want 1", len(replies))
	}

	resp, _ = env.do(t, http.MethodPost, "/api/forum/threads/th_missing/replies", token, map[string]string{"body": "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reply to missing thread status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteThreadRequiresModerator(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "us_member")
	adminToken := env.token(t, "us_admin")

	env.store.threads["th_1"] = store.ForumThread{ID: "th_1", Title: "Old thread"}

	resp, _ := env.do(t, http.MethodDelete, "/api/forum/threads/th_1", memberToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("member delete thread status = %d, want 403", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/forum/threads/th_1", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete thread status = %d", resp.StatusCode)
	}
	if _, ok := env.store.threads["th_1"]; ok {
		t.Error("thread should be removed")
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/forum/threads/th_1", adminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete missing thread status = %d, want 404", resp.StatusCode)
	}
}

func TestResourceModerationRights(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "us_member")
	adminToken := env.token(t, "us_admin")

	resp, _ := env.do(t, http.MethodPost, "/api/resources", memberToken, map[string]string{"title": "Checklist", "content": "..."})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("member create resource status = %d, want 403", resp.StatusCode)
	}

	resp, created := env.do(t, http.MethodPost, "/api/resources", adminToken, map[string]string{"title": "Checklist", "category": "Guides", "content": "Step one"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create resource status = %d", resp.StatusCode)
	}
	resourceID := created["id"].(string)

	// Members can read resources
	resp, got := env.do(t, http.MethodGet, "/api/resources/"+resourceID, memberToken, nil)
	if resp.StatusCode != http.StatusOK || got["title"] != "Checklist" {
		t.Errorf("member read resource = %d %v", resp.StatusCode, got["title"])
	}

	resp, updated := env.do(t, http.MethodPut, "/api/resources/"+resourceID, adminToken, map[string]string{"title": "Checklist v2", "category": "guides", "content": "Step one, step two"})
	if resp.StatusCode != http.StatusOK || updated["title"] != "Checklist v2" {
		t.Errorf("admin update resource = %d %v", resp.StatusCode, updated["title"])
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "us_member")
	adminToken := env.token(t, "us_admin")

	resp, _ := env.do(t, http.MethodGet, "/api/admin/users", memberToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("member admin list status = %d, want 403", resp.StatusCode)
	}

	resp, payload := env.do(t, http.MethodGet, "/api/admin/users", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list status = %d", resp.StatusCode)
	}
	if users := payload["users"].([]any); len(users) != 2 {
		t.Errorf("users = %d, want 2", len(users))
	}

	resp, _ = env.do(t, http.MethodPut, "/api/admin/users/us_member/role", adminToken, map[string]string{"role": "volunteer"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set role status = %d", resp.StatusCode)
	}
	if env.store.users["us_member"].Role != "volunteer" {
		t.Errorf("role after update = %q", env.store.users["us_member"].Role)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/admin/users/us_member/role", adminToken, map[string]string{"role": "superuser"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown role status = %d, want 422", resp.StatusCode)
	}
}

func TestAttachmentsUnavailableWithoutObjectStore(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1"}
	env.store.notes["nt_1"] = store.Note{ID: "nt_1", FamilyID: "fm_1", Version: 1}

	resp, payload := env.do(t, http.MethodGet, "/api/notes/nt_1/attachments", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("attachments without object store status = %d, want 503", resp.StatusCode)
	}
	if payload["code"] != "ATTACHMENTS_UNAVAILABLE" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestAutosaveSettings(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	resp, payload := env.do(t, http.MethodGet, "/api/settings/autosave", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings status = %d", resp.StatusCode)
	}
	if payload["intervalSeconds"].(float64) != 30 {
		t.Errorf("intervalSeconds = %v, want 30", payload["intervalSeconds"])
	}
	if payload["draftFreshnessMinutes"].(float64) != 60 {
		t.Errorf("draftFreshnessMinutes = %v, want 60", payload["draftFreshnessMinutes"])
	}
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "us_member")

	env.store.families["fm_1"] = store.Family{ID: "fm_1"}
	env.store.notes["nt_1"] = store.Note{ID: "nt_1", FamilyID: "fm_1"}
	env.store.threads["th_1"] = store.ForumThread{ID: "th_1"}

	resp, payload := env.do(t, http.MethodGet, "/api/summary", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	if payload["families"].(float64) != 1 || payload["notes"].(float64) != 1 || payload["threads"].(float64) != 1 {
		t.Errorf("summary = %v", payload)
	}
}
