package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Family struct {
	ID             string
	Name           string
	GuardianUserID string
	GuardianName   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FamilyMember struct {
	ID           string
	FamilyID     string
	FullName     string
	Relationship string
	Notes        string
	CreatedAt    time.Time
}

// Note is a rich-text care note. Content is serialized editor JSON; Version
// increases monotonically on every confirmed content save and is the basis
// for autosave conflict detection.
type Note struct {
	ID         string
	FamilyID   string
	Title      string
	Content    string
	Version    int64
	AuthorID   string
	AuthorName string
	UpdatedBy  string
	UpdatedAt  time.Time
	CreatedAt  time.Time
}

type ForumThread struct {
	ID         string
	Title      string
	Category   string
	Body       string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
}

type ForumReply struct {
	ID         string
	ThreadID   string
	Body       string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
}

// Resource is a reusable template or reference document maintained by staff.
type Resource struct {
	ID        string
	Title     string
	Category  string
	Content   string
	UpdatedBy string
	UpdatedAt time.Time
	CreatedAt time.Time
}

type Attachment struct {
	ID          string
	NoteID      string
	Filename    string
	ObjectKey   string
	ContentType string
	Size        int64
	UploadedBy  string
	CreatedAt   time.Time
}
