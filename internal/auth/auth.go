package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/goftego/internal/db"
	"github.com/4xmen/goftego/internal/models"
)

var (
	// ErrAuthentication covers missing, malformed, expired or otherwise
	// unusable credentials.
	ErrAuthentication = errors.New("authentication failed")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrEmailTaken     = errors.New("email already registered")
)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 7*24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *Service) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" || len(name) > 64 {
		return nil, fmt.Errorf("%w: name must be between 1 and 64 characters", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:        db.NewID(),
		Name:      name,
		Email:     email,
		Status:    models.StatusOffline,
		CreatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, string(hash), user.Status, db.Timestamp(now), db.Timestamp(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	return user, nil
}

// Login checks the password, marks the user online and returns a fresh
// token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var userID, passwordHash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM users WHERE email = ? AND is_bot = 0",
		email,
	).Scan(&userID, &passwordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("%w: invalid email or password", ErrAuthentication)
		}
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("%w: invalid email or password", ErrAuthentication)
	}

	if err := s.setStatus(ctx, userID, models.StatusOnline); err != nil {
		return "", nil, err
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	token, err := s.GenerateToken(userID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, user, nil
}

func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, models.StatusOffline)
}

func (s *Service) setStatus(ctx context.Context, userID, status string) error {
	now := db.Timestamp(s.now())
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?",
		status, now, now, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) GenerateToken(userID string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid token", ErrAuthentication)
	}

	return claims, nil
}

// Authenticate resolves a bearer credential to a stored user. Every
// failure, including a user deleted after the token was issued, is an
// ErrAuthentication.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuthentication)
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return nil, err
	}

	return user, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var (
		user     models.User
		lastSeen int64
		created  int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, avatar, status, last_seen, is_bot, created_at FROM users WHERE id = ?",
		userID,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Avatar, &user.Status, &lastSeen, &user.IsBot, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.LastSeen = db.Time(lastSeen)
	user.CreatedAt = db.Time(created)
	return &user, nil
}

// UserExists checks if a user with the given ID exists
func (s *Service) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// EnsureSystemUser creates the account used by automated senders if it
// does not exist yet. The account has no usable password.
func (s *Service) EnsureSystemUser(ctx context.Context, id, name, email string) error {
	now := db.Timestamp(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, status, last_seen, is_bot, created_at, updated_at)
		VALUES (?, ?, ?, '!', 'online', ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_bot = 1
	`, id, name, strings.ToLower(email), now, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure system user: %w", err)
	}
	return nil
}

// SearchUsers lists up to 20 users other than callerID whose name or
// email contains query, case-insensitively.
func (s *Service) SearchUsers(ctx context.Context, callerID, query string) ([]models.User, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, avatar, status, last_seen, is_bot, created_at FROM users
		WHERE id != ? AND (LOWER(name) LIKE ? OR LOWER(email) LIKE ?)
		ORDER BY is_bot DESC, name LIMIT 20
	`, callerID, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var (
			user              models.User
			lastSeen, created int64
		)
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Avatar, &user.Status, &lastSeen, &user.IsBot, &created); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.LastSeen = db.Time(lastSeen)
		user.CreatedAt = db.Time(created)
		users = append(users, user)
	}
	return users, rows.Err()
}
