package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.GetConn(), "test-secret")
}

func TestRegister(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		wantErr  error
	}{
		{name: "valid", userName: "Ada", email: "ada@example.com", password: "secret1"},
		{name: "duplicate email", userName: "Ada 2", email: "ADA@example.com", password: "secret1", wantErr: ErrEmailTaken},
		{name: "bad email", userName: "Bob", email: "not-an-email", password: "secret1", wantErr: ErrInvalidInput},
		{name: "short password", userName: "Bob", email: "bob@example.com", password: "123", wantErr: ErrInvalidInput},
		{name: "empty name", userName: "  ", email: "eve@example.com", password: "secret1", wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.Register(ctx, tt.userName, tt.email, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if user.ID == "" || user.Status != models.StatusOffline {
				t.Errorf("unexpected user: %+v", user)
			}
		})
	}
}

func TestLoginMarksOnline(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, _, err := svc.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Login() with bad password error = %v", err)
	}

	token, user, err := svc.Login(ctx, " ADA@example.com ", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Fatal("Login() returned an empty token")
	}
	if user.ID != registered.ID || user.Status != models.StatusOnline {
		t.Errorf("unexpected user after login: %+v", user)
	}
	if user.LastSeen.IsZero() {
		t.Error("last seen was not stamped")
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	after, _ := svc.GetUser(ctx, user.ID)
	if after.Status != models.StatusOffline {
		t.Errorf("status after logout = %q", after.Status)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	valid, _ := svc.GenerateToken(user.ID)
	ghost, _ := svc.GenerateToken("no-such-user")

	other := New(svc.db, "other-secret")
	forged, _ := other.GenerateToken(user.ID)

	expiredSvc := NewWithTokenTTL(svc.db, "test-secret", time.Minute)
	expiredSvc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredSvc.GenerateToken(user.ID)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: user.ID})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: valid},
		{name: "missing", token: "", wantErr: true},
		{name: "garbage", token: "abc.def.ghi", wantErr: true},
		{name: "wrong secret", token: forged, wantErr: true},
		{name: "expired", token: expired, wantErr: true},
		{name: "unsigned", token: unsigned, wantErr: true},
		{name: "deleted user", token: ghost, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Authenticate(ctx, tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrAuthentication) {
					t.Fatalf("Authenticate() error = %v, want ErrAuthentication", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got.ID != user.ID {
				t.Errorf("Authenticate() user = %s, want %s", got.ID, user.ID)
			}
		})
	}
}

func TestEnsureSystemUser(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.EnsureSystemUser(ctx, "bot-id", "Assistant", "bot@goftego.local"); err != nil {
			t.Fatalf("EnsureSystemUser() error = %v", err)
		}
	}

	bot, err := svc.GetUser(ctx, "bot-id")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !bot.IsBot {
		t.Error("system user not flagged as bot")
	}
	if _, _, err := svc.Login(ctx, "bot@goftego.local", "!"); !errors.Is(err, ErrAuthentication) {
		t.Errorf("bot login error = %v, want ErrAuthentication", err)
	}
}

func TestSearchUsers(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	ada, _ := svc.Register(ctx, "Ada Lovelace", "ada@example.com", "secret1")
	svc.Register(ctx, "Alan Turing", "alan@example.com", "secret1")
	svc.Register(ctx, "Grace Hopper", "grace@navy.mil", "secret1")

	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: 2},
		{query: "TURING", want: 1},
		{query: "navy", want: 1},
		{query: "ada", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			users, err := svc.SearchUsers(ctx, ada.ID, tt.query)
			if err != nil {
				t.Fatalf("SearchUsers() error = %v", err)
			}
			if len(users) != tt.want {
				t.Errorf("SearchUsers(%q) = %d users, want %d", tt.query, len(users), tt.want)
			}
		})
	}
}
