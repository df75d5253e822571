package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"tribune/api/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	user, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "Priya@Example.org",
		Password:    "hunter22hunter22",
		DisplayName: "Priya",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if user.PasswordHash == "hunter22hunter22" {
		t.Fatal("password stored in clear")
	}

	// Email lookup is case-insensitive.
	signedIn, err := svc.SignIn(ctx, "priya@example.org", "hunter22hunter22")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if signedIn.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, signedIn.ID)
	}

	if _, err := svc.SignIn(ctx, "priya@example.org", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	req := SignUpRequest{Email: "a@b.org", Password: "longenough", DisplayName: "A"}
	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.org", Password: "short", DisplayName: "A"}); err == nil {
		t.Error("expected error for short password")
	}
}
