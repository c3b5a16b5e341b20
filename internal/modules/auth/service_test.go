package auth

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthService(t *testing.T) (*Service, *UserRepository) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_at    INTEGER NOT NULL,
			last_login    INTEGER
		)
	`)
	require.NoError(t, err, "Failed to create users table")

	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewUserRepository(db, log)
	svc := NewService(repo, "test-secret", 7*24*time.Hour, log)
	return svc, repo
}

func TestRegisterIssuesToken(t *testing.T) {
	svc, _ := setupAuthService(t)

	session, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "ana@example.com", session.User.Email)
	assert.Equal(t, "Ana", session.User.Name)
	assert.NotZero(t, session.User.ID)

	// Registration counts as a login
	identity, err := svc.VerifyToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, identity.UserID)
	assert.Equal(t, "ana@example.com", identity.Email)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := setupAuthService(t)

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		wantErr  error
	}{
		{"empty name", "", "a@b.com", "secret123", ErrMissingFields},
		{"empty email", "Ana", "", "secret123", ErrMissingFields},
		{"empty password", "Ana", "a@b.com", "", ErrMissingFields},
		{"short password", "Ana", "a@b.com", "12345", ErrPasswordTooShort},
		{"email without at", "Ana", "nope", "secret123", ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(tt.userName, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := setupAuthService(t)

	_, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	_, err = svc.Register("Other", "ANA@example.com", "different1")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	svc, _ := setupAuthService(t)

	_, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	session, err := svc.Login("Ana@Example.com", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "ana@example.com", session.User.Email)
	assert.NotNil(t, session.User.LastLogin)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := setupAuthService(t)

	_, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	// Wrong password and unknown account must be indistinguishable
	_, err = svc.Login("ana@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login("nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsDisabledAccount(t *testing.T) {
	svc, repo := setupAuthService(t)

	session, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	_, err = repo.authDB.Exec("UPDATE users SET is_active = 0 WHERE id = ?", session.User.ID)
	require.NoError(t, err)

	_, err = svc.Login("ana@example.com", "secret123")
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	svc, _ := setupAuthService(t)

	session, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	_, err = svc.VerifyToken(session.Token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_at    INTEGER NOT NULL,
			last_login    INTEGER
		)
	`)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewUserRepository(db, log)
	svc := NewService(repo, "test-secret", -time.Hour, log)

	session, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	_, err = svc.VerifyToken(session.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestProfile(t *testing.T) {
	svc, _ := setupAuthService(t)

	session, err := svc.Register("Ana", "ana@example.com", "secret123")
	require.NoError(t, err)

	profile, err := svc.Profile(session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", profile.Name)
	assert.Equal(t, "ana@example.com", profile.Email)

	_, err = svc.Profile(99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestIdentitySessionKey(t *testing.T) {
	guest := Identity{Guest: true}
	assert.Equal(t, "guest", guest.SessionKey())

	user := Identity{UserID: 42}
	assert.Equal(t, "user:42", user.SessionKey())
}
