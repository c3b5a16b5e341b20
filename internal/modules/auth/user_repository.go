package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// UserRepository handles user rows in auth.db.
type UserRepository struct {
	authDB *sql.DB
	log    zerolog.Logger
}

const userColumns = `id, email, password_hash, name, is_active, created_at, last_login`

// NewUserRepository creates a new user repository.
func NewUserRepository(authDB *sql.DB, log zerolog.Logger) *UserRepository {
	return &UserRepository{
		authDB: authDB,
		log:    log.With().Str("repo", "user").Logger(),
	}
}

// Create inserts a new user and returns it with the assigned id.
func (r *UserRepository) Create(email, passwordHash, name string) (*User, error) {
	email = normalizeEmail(email)

	exists, err := r.EmailExists(email)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}

	now := time.Now()
	res, err := r.authDB.Exec(`
		INSERT INTO users (email, password_hash, name, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
	`, email, passwordHash, name, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	r.log.Info().Int64("user_id", id).Str("email", email).Msg("User created")

	return &User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		IsActive:     true,
		CreatedAt:    now,
	}, nil
}

// GetByEmail retrieves a user by email, or nil when no such user exists.
func (r *UserRepository) GetByEmail(email string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE email = ?"

	user, err := r.scanUser(r.authDB.QueryRow(query, normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by id, or nil when no such user exists.
func (r *UserRepository) GetByID(id int64) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"

	user, err := r.scanUser(r.authDB.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// EmailExists checks whether an account with the email already exists.
func (r *UserRepository) EmailExists(email string) (bool, error) {
	var exists int
	err := r.authDB.QueryRow(
		"SELECT 1 FROM users WHERE email = ? LIMIT 1",
		normalizeEmail(email),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return true, nil
}

// UpdateLastLogin stamps the user's last successful login.
func (r *UserRepository) UpdateLastLogin(id int64) error {
	_, err := r.authDB.Exec(
		"UPDATE users SET last_login = ? WHERE id = ?",
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*User, error) {
	var user User
	var isActive int
	var createdAt int64
	var lastLogin sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&isActive,
		&createdAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}

	user.IsActive = isActive != 0
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastLogin.Valid {
		t := time.Unix(lastLogin.Int64, 0).UTC()
		user.LastLogin = &t
	}

	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userKey(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}
