package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"devshare/api/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]store.User
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]store.User),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verifications[token] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := m.verifications[token]; ok {
		user.IsEmailVerified = true
		m.users[user.ID] = user
		m.emailIndex[user.Email] = user.ID
		return nil
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		req := SignUpRequest{
			Email:       "test@example.com",
			Password:    "password123",
			Handle:      "tester",
			DisplayName: "Test User",
		}
		resp, err := svc.SignUp(ctx, req)
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if resp.UserID == "" {
			t.Fatal("expected a user ID")
		}
		if resp.VerificationToken == "" {
			t.Fatal("expected a verification token")
		}
		if !resp.RequiresEmailVerify {
			t.Fatal("expected RequiresEmailVerify to be true")
		}
		user := mockStore.users[resp.UserID]
		if user.Handle != "tester" {
			t.Fatalf("expected handle tester, got %q", user.Handle)
		}
	})

	t.Run("derives handle from email", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "River.Dev@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if got := mockStore.users[resp.UserID].Handle; got != "river.dev" {
			t.Fatalf("expected handle river.dev, got %q", got)
		}
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "test@example.com",
			Password: "password123",
		})
		if err == nil {
			t.Fatal("expected duplicate email to be rejected")
		}
	})

	t.Run("rejects short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "short@example.com",
			Password: "short",
		})
		if err == nil {
			t.Fatal("expected short password to be rejected")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "signin@example.com",
		Password: "password123",
		Handle:   "signer",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	t.Run("unverified email requires verify", func(t *testing.T) {
		result, err := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if !result.RequiresVerify {
			t.Fatal("expected RequiresVerify before email verification")
		}
	})

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		result, err := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if result.RequiresVerify {
			t.Fatal("did not expect RequiresVerify after verification")
		}
		if result.User.Handle != "signer" {
			t.Fatalf("unexpected user: %+v", result.User)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "signin@example.com", Password: "wrong-password"})
		if err == nil {
			t.Fatal("expected wrong password to be rejected")
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "reset@example.com",
		Password: "password123",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "new-password-1"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "new-password-1"}); err != nil {
		t.Fatalf("SignIn() with new password error = %v", err)
	}

	t.Run("unknown email yields no token but no error", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "unknown@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset() error = %v", err)
		}
		if token != "" {
			t.Fatal("expected empty token for unknown email")
		}
	})
}
