package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carelink/api/internal/attach"
	"carelink/api/internal/auth"
	"carelink/api/internal/authpw"
	"carelink/api/internal/config"
	"carelink/api/internal/editor"
	"carelink/api/internal/email"
	"carelink/api/internal/export"
	"carelink/api/internal/history"
	"carelink/api/internal/rbac"
	"carelink/api/internal/recovery"
	"carelink/api/internal/search"
	"carelink/api/internal/store"
	"carelink/api/internal/util"
)

const draftNamespace = "note"

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	SetUserRole(context.Context, string, string) error

	InsertFamily(context.Context, store.Family) error
	GetFamily(context.Context, string) (store.Family, error)
	ListFamilies(context.Context) ([]store.Family, error)
	InsertFamilyMember(context.Context, store.FamilyMember) error
	ListFamilyMembers(context.Context, string) ([]store.FamilyMember, error)

	InsertNote(context.Context, store.Note) error
	GetNote(context.Context, string) (store.Note, error)
	ListNotesByFamily(context.Context, string) ([]store.Note, error)
	UpdateNoteContent(context.Context, string, string, int64, string) (int64, error)
	UpdateNoteTitle(context.Context, string, string, string) error
	DeleteNote(context.Context, string) error

	InsertForumThread(context.Context, store.ForumThread) error
	GetForumThread(context.Context, string) (store.ForumThread, error)
	ListForumThreads(context.Context, string) ([]store.ForumThread, error)
	DeleteForumThread(context.Context, string) error
	InsertForumReply(context.Context, store.ForumReply) error
	ListForumReplies(context.Context, string) ([]store.ForumReply, error)

	InsertResource(context.Context, store.Resource) error
	GetResource(context.Context, string) (store.Resource, error)
	ListResources(context.Context, string) ([]store.Resource, error)
	UpdateResource(context.Context, string, string, string, string, string) error

	InsertAttachment(context.Context, store.Attachment) error
	ListNoteAttachments(context.Context, string) ([]store.Attachment, error)

	SummaryCounts(context.Context) (int, int, int, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh sessions; Redis in production, Postgres as the
// fallback when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type historyService interface {
	EnsureNoteRepo(string, history.Content, string) error
	CommitContent(string, history.Content, string, string) (history.Revision, error)
	History(string, int) ([]history.Revision, error)
	GetContentByHash(string, string) (history.Content, error)
}

// draftStore backs the editor's draft recovery endpoints.
type draftStore interface {
	SaveBackup(context.Context, recovery.Key, string) error
	GetBackup(context.Context, recovery.Key) (*recovery.Backup, error)
	ClearBackup(context.Context, recovery.Key) error
	ShouldOffer(*recovery.Backup) bool
}

type Service struct {
	cfg          config.Config
	store        dataStore
	sessions     sessionStore
	history      historyService
	drafts       draftStore
	search       *search.Service
	exporter     *export.Service
	attachments  *attach.Service
	authPassword *authpw.Service
	email        *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, historySvc *history.Service, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		history:  historySvc,
		search:   searchSvc,
	}
	s.authPassword = authpw.NewService(dataStore)
	s.exporter = export.NewService(noteExportStore{s})
	return s
}

// NewWithSessionStore wires a dedicated refresh-session store (Redis).
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, historySvc *history.Service, searchSvc *search.Service) *Service {
	s := New(cfg, dataStore, historySvc, searchSvc)
	s.sessions = sessions
	return s
}

// SetDraftStore wires the Redis draft backup store.
func (s *Service) SetDraftStore(drafts draftStore) { s.drafts = drafts }

// SetAttachments wires object storage for note attachments.
func (s *Service) SetAttachments(a *attach.Service) { s.attachments = a }

// SetEmail wires the SMTP notification service.
func (s *Service) SetEmail(e *email.Service) { s.email = e }

func (s *Service) AuthPasswordService() *authpw.Service { return s.authPassword }

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the signup verification link. Delivery is
// best effort; failures are logged, never surfaced to the caller.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	link := s.cfg.AppBaseURL + "/verify?token=" + url.QueryEscape(token)
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, link); err != nil {
			log.Printf("app: send verification email: %v", err)
		}
	}()
}

// SendPasswordResetEmail delivers the password reset link, best effort.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	if userName == "" {
		userName = "there"
	}
	link := s.cfg.AppBaseURL + "/reset-password?token=" + url.QueryEscape(token)
	go func() {
		if err := s.email.SendPasswordResetEmail(to, userName, link); err != nil {
			log.Printf("app: send password reset email: %v", err)
		}
	}()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds the resource library on an empty database so a fresh
// deployment has something to show.
func (s *Service) Bootstrap(ctx context.Context) error {
	resources, err := s.store.ListResources(ctx, "")
	if err != nil {
		return err
	}
	if len(resources) > 0 {
		return nil
	}

	seeds := []store.Resource{
		{ID: util.NewID("rs"), Title: "Getting started with CareLink", Category: "guides", Content: "Create a family, add its members, and start a care note to share routines with everyone involved.", UpdatedBy: "CareLink"},
		{ID: util.NewID("rs"), Title: "Care note template: daily routine", Category: "templates", Content: "Morning, afternoon and evening sections with medication times and handover notes.", UpdatedBy: "CareLink"},
		{ID: util.NewID("rs"), Title: "Respite care checklist", Category: "checklists", Content: "What a respite carer needs to know before the first visit.", UpdatedBy: "CareLink"},
	}
	for _, seed := range seeds {
		if err := s.store.InsertResource(ctx, seed); err != nil {
			return err
		}
		if s.search != nil {
			s.search.IndexResource(search.ResourceRecord{ID: seed.ID, Title: seed.Title, Body: seed.Content, Category: seed.Category})
		}
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// AutosaveSettings tells the editor client how to configure its controller.
func (s *Service) AutosaveSettings() map[string]any {
	return map[string]any{
		"intervalSeconds":       int(s.cfg.AutosaveInterval.Seconds()),
		"draftFreshnessMinutes": int(s.cfg.DraftFreshness.Minutes()),
	}
}

// --- sessions ---

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session store only keeps the user ID; reload for current role/name.
	if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = full
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- families ---

func (s *Service) CreateFamily(ctx context.Context, name string, session Session) (map[string]any, error) {
	familyName := strings.TrimSpace(name)
	if familyName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	item := store.Family{
		ID:             util.NewID("fm"),
		Name:           familyName,
		GuardianUserID: session.UserID,
		GuardianName:   session.UserName,
	}
	if err := s.store.InsertFamily(ctx, item); err != nil {
		return nil, err
	}
	return familyPayload(item, nil), nil
}

func (s *Service) ListFamilies(ctx context.Context) ([]map[string]any, error) {
	families, err := s.store.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(families))
	for _, f := range families {
		items = append(items, familyPayload(f, nil))
	}
	return items, nil
}

func (s *Service) GetFamily(ctx context.Context, familyID string) (map[string]any, error) {
	family, err := s.store.GetFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListFamilyMembers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	return familyPayload(family, members), nil
}

func (s *Service) AddFamilyMember(ctx context.Context, familyID, fullName, relationship, notes, inviteEmail string, session Session) (map[string]any, error) {
	if strings.TrimSpace(fullName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fullName is required", nil)
	}
	family, err := s.store.GetFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	member := store.FamilyMember{
		ID:           util.NewID("mb"),
		FamilyID:     familyID,
		FullName:     strings.TrimSpace(fullName),
		Relationship: strings.TrimSpace(relationship),
		Notes:        notes,
	}
	if err := s.store.InsertFamilyMember(ctx, member); err != nil {
		return nil, err
	}

	if inviteEmail = strings.TrimSpace(inviteEmail); inviteEmail != "" && s.SMTPConfigured() {
		link := s.cfg.AppBaseURL + "/families/" + familyID
		go func() {
			if err := s.email.SendFamilyInviteEmail(inviteEmail, member.FullName, family.Name, session.UserName, link); err != nil {
				log.Printf("app: send family invite email: %v", err)
			}
		}()
	}

	return memberPayload(member), nil
}

func familyPayload(f store.Family, members []store.FamilyMember) map[string]any {
	payload := map[string]any{
		"id":           f.ID,
		"name":         f.Name,
		"guardianId":   f.GuardianUserID,
		"guardianName": f.GuardianName,
		"createdAt":    f.CreatedAt,
	}
	if members != nil {
		items := make([]map[string]any, 0, len(members))
		for _, m := range members {
			items = append(items, memberPayload(m))
		}
		payload["members"] = items
	}
	return payload
}

func memberPayload(m store.FamilyMember) map[string]any {
	return map[string]any{
		"id":           m.ID,
		"familyId":     m.FamilyID,
		"fullName":     m.FullName,
		"relationship": m.Relationship,
		"notes":        m.Notes,
		"createdAt":    m.CreatedAt,
	}
}

// --- care notes ---

func (s *Service) CreateNote(ctx context.Context, familyID, title string, session Session) (map[string]any, error) {
	noteTitle := strings.TrimSpace(title)
	if noteTitle == "" {
		noteTitle = "Untitled note"
	}
	if _, err := s.store.GetFamily(ctx, familyID); err != nil {
		return nil, err
	}

	note := store.Note{
		ID:         util.NewID("nt"),
		FamilyID:   familyID,
		Title:      noteTitle,
		Content:    editor.Serialize(editor.NewDocument()),
		Version:    1,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		UpdatedBy:  session.UserName,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return nil, err
	}

	if s.history != nil {
		initial := history.Content{Title: note.Title, Doc: json.RawMessage(note.Content)}
		if err := s.history.EnsureNoteRepo(note.ID, initial, session.UserName); err != nil {
			log.Printf("app: note history init %s: %v", note.ID, err)
		}
	}
	s.indexNote(note)

	return notePayload(note), nil
}

func (s *Service) ListNotes(ctx context.Context, familyID string) ([]map[string]any, error) {
	notes, err := s.store.ListNotesByFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, notePayload(n))
	}
	return items, nil
}

func (s *Service) GetNote(ctx context.Context, noteID string) (map[string]any, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return notePayload(note), nil
}

// SaveNoteContent persists editor content against a base version. A stale
// base version is reported as a conflict carrying the remote content and
// version, so the editor can arbitrate instead of silently overwriting.
func (s *Service) SaveNoteContent(ctx context.Context, noteID, content string, baseVersion int64, session Session) (map[string]any, error) {
	if !editor.IsValidContent(content) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not a valid editor document", nil)
	}

	newVersion, err := s.store.UpdateNoteContent(ctx, noteID, content, baseVersion, session.UserName)
	if errors.Is(err, store.ErrVersionConflict) {
		remote, getErr := s.store.GetNote(ctx, noteID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, domainError(http.StatusConflict, "VERSION_CONFLICT", "Note was changed by someone else", map[string]any{
			"remoteContent": remote.Content,
			"remoteVersion": remote.Version,
			"updatedBy":     remote.UpdatedBy,
			"updatedAt":     remote.UpdatedAt,
		})
	}
	if err != nil {
		return nil, err
	}

	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		snapshot := history.Content{Title: note.Title, Doc: json.RawMessage(content)}
		if _, err := s.history.CommitContent(noteID, snapshot, session.UserName, "Save note content"); err != nil {
			log.Printf("app: note history commit %s: %v", noteID, err)
		}
	}

	// A confirmed save makes the draft backup redundant.
	if s.drafts != nil {
		if err := s.drafts.ClearBackup(ctx, s.draftKey(noteID, session.UserID)); err != nil {
			log.Printf("app: clear draft %s: %v", noteID, err)
		}
	}
	s.indexNote(note)

	return map[string]any{
		"id":      note.ID,
		"version": newVersion,
		"savedAt": note.UpdatedAt,
	}, nil
}

func (s *Service) UpdateNoteTitle(ctx context.Context, noteID, title string, session Session) (map[string]any, error) {
	noteTitle := strings.TrimSpace(title)
	if noteTitle == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateNoteTitle(ctx, noteID, noteTitle, session.UserName); err != nil {
		return nil, err
	}
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return nil, err
	}
	s.indexNote(note)
	return notePayload(note), nil
}

func (s *Service) DeleteNote(ctx context.Context, noteID string) error {
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	return nil
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:       note.ID,
		Title:    note.Title,
		Body:     editor.ToPlainText(note.Content),
		FamilyID: note.FamilyID,
	})
}

func notePayload(n store.Note) map[string]any {
	return map[string]any{
		"id":         n.ID,
		"familyId":   n.FamilyID,
		"title":      n.Title,
		"content":    n.Content,
		"version":    n.Version,
		"authorId":   n.AuthorID,
		"authorName": n.AuthorName,
		"updatedBy":  n.UpdatedBy,
		"updatedAt":  n.UpdatedAt,
		"createdAt":  n.CreatedAt,
	}
}

// --- draft recovery ---

func (s *Service) draftKey(noteID, userID string) recovery.Key {
	return recovery.Key{Namespace: draftNamespace, ContentID: noteID, UserID: userID}
}

// SaveDraft mirrors the user's unsaved editor state.
func (s *Service) SaveDraft(ctx context.Context, noteID, state string, session Session) error {
	if s.drafts == nil {
		return domainError(http.StatusServiceUnavailable, "DRAFTS_UNAVAILABLE", "Draft storage not configured", nil)
	}
	if !editor.IsValidContent(state) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "state is not a valid editor document", nil)
	}
	return s.drafts.SaveBackup(ctx, s.draftKey(noteID, session.UserID), state)
}

// GetDraft returns the stored draft for this note and user, with a flag
// saying whether it is fresh enough to offer for recovery. Stale drafts are
// still returned; the client decides what to do with them.
func (s *Service) GetDraft(ctx context.Context, noteID string, session Session) (map[string]any, error) {
	if s.drafts == nil {
		return nil, domainError(http.StatusServiceUnavailable, "DRAFTS_UNAVAILABLE", "Draft storage not configured", nil)
	}
	backup, err := s.drafts.GetBackup(ctx, s.draftKey(noteID, session.UserID))
	if err != nil {
		return nil, err
	}
	if backup == nil {
		return map[string]any{"exists": false}, nil
	}
	return map[string]any{
		"exists":    true,
		"state":     backup.State,
		"timestamp": backup.Timestamp,
		"offer":     s.drafts.ShouldOffer(backup),
	}, nil
}

// DismissDraft discards the backup after the user chooses not to restore it.
func (s *Service) DismissDraft(ctx context.Context, noteID string, session Session) error {
	if s.drafts == nil {
		return domainError(http.StatusServiceUnavailable, "DRAFTS_UNAVAILABLE", "Draft storage not configured", nil)
	}
	return s.drafts.ClearBackup(ctx, s.draftKey(noteID, session.UserID))
}

// --- note history ---

func (s *Service) NoteHistory(ctx context.Context, noteID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetNote(ctx, noteID); err != nil {
		return nil, err
	}
	revisions, err := s.history.History(noteID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"noteId": noteID, "revisions": revisions}, nil
}

func (s *Service) NoteContentAt(ctx context.Context, noteID, hash string) (map[string]any, error) {
	if _, err := s.store.GetNote(ctx, noteID); err != nil {
		return nil, err
	}
	content, err := s.history.GetContentByHash(noteID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
	}
	return map[string]any{
		"noteId":  noteID,
		"hash":    hash,
		"title":   content.Title,
		"content": string(content.Doc),
	}, nil
}

// --- search ---

func (s *Service) Search(ctx context.Context, text, filterType, familyID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(filterType),
		FilterFamilyID: familyID,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// --- forum ---

func (s *Service) CreateThread(ctx context.Context, title, category, body string, session Session) (map[string]any, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	thread := store.ForumThread{
		ID:         util.NewID("th"),
		Title:      strings.TrimSpace(title),
		Category:   normalizeCategory(category),
		Body:       body,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
	}
	if err := s.store.InsertForumThread(ctx, thread); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexThread(search.ThreadRecord{
			ID:       thread.ID,
			Title:    thread.Title,
			Body:     thread.Body,
			Category: thread.Category,
		})
	}
	return threadPayload(thread, nil), nil
}

func (s *Service) ListThreads(ctx context.Context, category string) ([]map[string]any, error) {
	threads, err := s.store.ListForumThreads(ctx, category)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(threads))
	for _, t := range threads {
		items = append(items, threadPayload(t, nil))
	}
	return items, nil
}

func (s *Service) GetThread(ctx context.Context, threadID string) (map[string]any, error) {
	thread, err := s.store.GetForumThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListForumReplies(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return threadPayload(thread, replies), nil
}

func (s *Service) ReplyToThread(ctx context.Context, threadID, body string, session Session) (map[string]any, error) {
	if strings.TrimSpace(body) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	if _, err := s.store.GetForumThread(ctx, threadID); err != nil {
		return nil, err
	}
	reply := store.ForumReply{
		ID:         util.NewID("rp"),
		ThreadID:   threadID,
		Body:       body,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
	}
	if err := s.store.InsertForumReply(ctx, reply); err != nil {
		return nil, err
	}
	return replyPayload(reply), nil
}

// DeleteThread removes a thread and its replies. Moderator action.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.store.GetForumThread(ctx, threadID); err != nil {
		return err
	}
	if err := s.store.DeleteForumThread(ctx, threadID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteThread(threadID)
	}
	return nil
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return "general"
	}
	return category
}

func threadPayload(t store.ForumThread, replies []store.ForumReply) map[string]any {
	payload := map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"category":   t.Category,
		"body":       t.Body,
		"authorId":   t.AuthorID,
		"authorName": t.AuthorName,
		"createdAt":  t.CreatedAt,
	}
	if replies != nil {
		items := make([]map[string]any, 0, len(replies))
		for _, r := range replies {
			items = append(items, replyPayload(r))
		}
		payload["replies"] = items
	}
	return payload
}

func replyPayload(r store.ForumReply) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"threadId":   r.ThreadID,
		"body":       r.Body,
		"authorId":   r.AuthorID,
		"authorName": r.AuthorName,
		"createdAt":  r.CreatedAt,
	}
}

// --- resources ---

func (s *Service) CreateResource(ctx context.Context, title, category, content string, session Session) (map[string]any, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	item := store.Resource{
		ID:        util.NewID("rs"),
		Title:     strings.TrimSpace(title),
		Category:  normalizeCategory(category),
		Content:   content,
		UpdatedBy: session.UserName,
	}
	if err := s.store.InsertResource(ctx, item); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexResource(search.ResourceRecord{
			ID:       item.ID,
			Title:    item.Title,
			Body:     item.Content,
			Category: item.Category,
		})
	}
	return resourcePayload(item), nil
}

func (s *Service) ListResources(ctx context.Context, category string) ([]map[string]any, error) {
	resources, err := s.store.ListResources(ctx, category)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(resources))
	for _, r := range resources {
		items = append(items, resourcePayload(r))
	}
	return items, nil
}

func (s *Service) GetResource(ctx context.Context, resourceID string) (map[string]any, error) {
	item, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return resourcePayload(item), nil
}

func (s *Service) UpdateResource(ctx context.Context, resourceID, title, category, content string, session Session) (map[string]any, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateResource(ctx, resourceID, strings.TrimSpace(title), normalizeCategory(category), content, session.UserName); err != nil {
		return nil, err
	}
	item, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexResource(search.ResourceRecord{
			ID:       item.ID,
			Title:    item.Title,
			Body:     item.Content,
			Category: item.Category,
		})
	}
	return resourcePayload(item), nil
}

func resourcePayload(r store.Resource) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"title":     r.Title,
		"category":  r.Category,
		"content":   r.Content,
		"updatedBy": r.UpdatedBy,
		"updatedAt": r.UpdatedAt,
		"createdAt": r.CreatedAt,
	}
}

// --- export ---

func (s *Service) ExportNote(ctx context.Context, noteID, version string, format export.Format) (*export.Result, error) {
	result, err := s.exporter.Export(ctx, export.Request{
		NoteID:  noteID,
		Version: version,
		Format:  format,
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency missing on server", nil)
		}
		return nil, err
	}
	return result, nil
}

// noteExportStore adapts the service to the exporter's data interface.
type noteExportStore struct {
	svc *Service
}

func (a noteExportStore) GetNote(ctx context.Context, noteID string) (export.Note, error) {
	note, err := a.svc.store.GetNote(ctx, noteID)
	if err != nil {
		return export.Note{}, err
	}
	familyName := ""
	if family, err := a.svc.store.GetFamily(ctx, note.FamilyID); err == nil {
		familyName = family.Name
	}
	return export.Note{
		ID:         note.ID,
		Title:      note.Title,
		Content:    note.Content,
		Author:     note.UpdatedBy,
		FamilyName: familyName,
		UpdatedAt:  note.UpdatedAt,
	}, nil
}

func (a noteExportStore) GetNoteContent(ctx context.Context, noteID, version string) (string, error) {
	if version == "" || version == "latest" {
		note, err := a.svc.store.GetNote(ctx, noteID)
		if err != nil {
			return "", err
		}
		return note.Content, nil
	}
	content, err := a.svc.history.GetContentByHash(noteID, version)
	if err != nil {
		return "", err
	}
	return string(content.Doc), nil
}

// --- attachments ---

func (s *Service) UploadAttachment(ctx context.Context, noteID, filename, contentType string, size int64, r io.Reader, session Session) (map[string]any, error) {
	if s.attachments == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if _, err := s.store.GetNote(ctx, noteID); err != nil {
		return nil, err
	}

	objectKey, err := s.attachments.Upload(ctx, noteID, filename, contentType, size, r)
	if err != nil {
		return nil, err
	}

	item := store.Attachment{
		ID:          util.NewID("at"),
		NoteID:      noteID,
		Filename:    filename,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        size,
		UploadedBy:  session.UserName,
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		return nil, err
	}
	return attachmentPayload(item, ""), nil
}

func (s *Service) ListAttachments(ctx context.Context, noteID string) ([]map[string]any, error) {
	if s.attachments == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	attachments, err := s.store.ListNoteAttachments(ctx, noteID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(attachments))
	for _, a := range attachments {
		url, err := s.attachments.DownloadURL(ctx, a.ObjectKey, a.Filename, 15*time.Minute)
		if err != nil {
			log.Printf("app: presign attachment %s: %v", a.ID, err)
			url = ""
		}
		items = append(items, attachmentPayload(a, url))
	}
	return items, nil
}

func attachmentPayload(a store.Attachment, url string) map[string]any {
	payload := map[string]any{
		"id":          a.ID,
		"noteId":      a.NoteID,
		"filename":    a.Filename,
		"contentType": a.ContentType,
		"size":        a.Size,
		"uploadedBy":  a.UploadedBy,
		"createdAt":   a.CreatedAt,
	}
	if url != "" {
		payload["downloadUrl"] = url
	}
	return payload
}

// --- admin ---

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":          u.ID,
			"displayName": u.DisplayName,
			"email":       u.Email,
			"role":        u.Role,
			"verified":    u.IsEmailVerified,
			"createdAt":   u.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) SetUserRole(ctx context.Context, userID, role string) error {
	normalized := rbac.Normalize(role)
	if string(normalized) != strings.ToLower(strings.TrimSpace(role)) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", nil)
	}
	return s.store.SetUserRole(ctx, userID, string(normalized))
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	families, notes, threads, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"families": families,
		"notes":    notes,
		"threads":  threads,
	}, nil
}
