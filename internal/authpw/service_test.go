package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"carelink/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	users      map[string]store.User // by email
	resets     map[string]string     // token -> userID
	resetsUsed map[string]bool
	verified   map[string]bool // token -> verified
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:      make(map[string]store.User),
		resets:     make(map[string]string),
		resetsUsed: make(map[string]bool),
		verified:   make(map[string]bool),
	}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	u, ok := f.users[email]
	if !ok {
		return store.User{}, errors.New("not found")
	}
	return u, nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, errors.New("not found")
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	for email, u := range f.users {
		if u.VerificationToken == token {
			u.IsEmailVerified = true
			f.users[email] = u
			return nil
		}
	}
	return errors.New("invalid token")
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	for email, u := range f.users {
		if u.ID == userID {
			u.PasswordHash = passwordHash
			f.users[email] = u
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	userID, ok := f.resets[token]
	if !ok || f.resetsUsed[token] {
		return "", errors.New("not found")
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.resetsUsed[token] = true
	return nil
}

func TestSignUpCreatesMemberAccount(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "jo@example.com",
		Password:    "longenough",
		DisplayName: "Jo",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if !resp.RequiresEmailVerify {
		t.Error("new accounts should require email verification")
	}

	user := fs.users["jo@example.com"]
	if user.Role != "member" {
		t.Errorf("new accounts should get member role, got %q", user.Role)
	}
	if user.PasswordHash == "longenough" {
		t.Error("password must be stored hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("longenough")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "short", DisplayName: "A"}); err == nil {
		t.Error("expected error for short password")
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Password: "longenough", DisplayName: "A"}); err == nil {
		t.Error("expected error for missing email")
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "jo@example.com", Password: "longenough", DisplayName: "Jo"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "jo@example.com", Password: "longenough", DisplayName: "Jo"}); err == nil {
		t.Error("expected error for duplicate email")
	}
}

func TestSignInFlow(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "jo@example.com", Password: "longenough", DisplayName: "Jo"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	// Unverified accounts get a verify prompt instead of a session
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "jo@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !signIn.RequiresVerify {
		t.Error("expected RequiresVerify for unverified account")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "jo@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("SignIn() after verify error = %v", err)
	}
	if signIn.RequiresVerify {
		t.Error("verified account should not require verification")
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "jo@example.com", Password: "wrongpassword"}); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "longenough"}); err == nil {
		t.Error("expected error for unknown email")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "jo@example.com", Password: "longenough", DisplayName: "Jo"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "jo@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	// Unknown emails are not revealed
	unknownToken, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil || unknownToken != "" {
		t.Errorf("unknown email should return empty token without error, got %q, %v", unknownToken, err)
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "evenlonger1"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "jo@example.com", Password: "evenlonger1"}); err != nil {
		t.Errorf("SignIn() with new password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "jo@example.com", Password: "longenough"}); err == nil {
		t.Error("expected error for old password after reset")
	}

	// Tokens are single use
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "thirdpassword"}); err == nil {
		t.Error("expected error for reused reset token")
	}
}
