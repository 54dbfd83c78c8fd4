package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo.Queries(), NewTokenIssuer("test-secret", time.Hour))
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == 0 || token == "" {
		t.Fatalf("user = %+v, token = %q", user, token)
	}
	if user.PasswordHash == "correct horse" {
		t.Fatal("password stored in clear")
	}

	logged, token2, err := svc.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != user.ID || token2 == "" {
		t.Errorf("login returned user %d, want %d", logged.ID, user.ID)
	}

	// Username matching is case-insensitive.
	if _, _, err := svc.Login(ctx, "ALICE", "correct horse"); err != nil {
		t.Errorf("case-insensitive login failed: %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.Register(ctx, "Alice", "other@example.com", "correct horse"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate username: err = %v, want ErrUsernameTaken", err)
	}
	if _, _, err := svc.Register(ctx, "bob", "ALICE@example.com", "correct horse"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email: err = %v, want ErrEmailTaken", err)
	}
}

func TestRegisterMapsUniqueIndexViolations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A registration that passes the existence checks but loses the race
	// reaches the insert and fails on the unique index instead.
	_, err := svc.queries.CreateUser(ctx, storage.CreateUserParams{
		Username: "ALICE", Email: "elsewhere@example.com", PasswordHash: "x",
	})
	if err == nil {
		t.Fatal("duplicate username insert succeeded")
	}
	if mapped := createUserErr(err); !errors.Is(mapped, ErrUsernameTaken) {
		t.Errorf("username violation mapped to %v, want ErrUsernameTaken", mapped)
	}

	_, err = svc.queries.CreateUser(ctx, storage.CreateUserParams{
		Username: "carol", Email: "ALICE@EXAMPLE.COM", PasswordHash: "x",
	})
	if err == nil {
		t.Fatal("duplicate email insert succeeded")
	}
	if mapped := createUserErr(err); !errors.Is(mapped, ErrEmailTaken) {
		t.Errorf("email violation mapped to %v, want ErrEmailTaken", mapped)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
		want     error
	}{
		{"missing username", "", "a@b.com", "password1", ErrMissingField},
		{"missing email", "alice", "", "password1", ErrMissingField},
		{"missing password", "alice", "a@b.com", "", ErrMissingField},
		{"short password", "alice", "a@b.com", "short", ErrWeakPassword},
		{"bad email", "alice", "not-an-email", "password1", ErrInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Register(ctx, tc.username, tc.email, tc.password); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := core.User{ID: 42, Username: "alice"}

	token, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("token has no unique id")
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	if _, err := issuer.Verify("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: err = %v, want ErrInvalidToken", err)
	}

	otherIssuer := NewTokenIssuer("other-secret", time.Hour)
	token, err := otherIssuer.Issue(core.User{ID: 1, Username: "mallory"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v, want ErrInvalidToken", err)
	}

	expired := NewTokenIssuer("test-secret", -time.Minute)
	token, err = expired.Issue(core.User{ID: 1, Username: "alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v, want ErrInvalidToken", err)
	}
}
