package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// Service implements account operations and token handling.
type Service struct {
	users    *UserRepository
	secret   []byte
	tokenTTL time.Duration
	log      zerolog.Logger
}

// NewService creates an auth service. tokenTTL bounds the lifetime of
// issued JWTs.
func NewService(users *UserRepository, secret string, tokenTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		users:    users,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		log:      log.With().Str("service", "auth").Logger(),
	}
}

// Session is the result of a successful registration or login.
type Session struct {
	Token string     `json:"token"`
	User  PublicUser `json:"user"`
}

// Register creates an account and logs it in immediately, returning a
// fresh token alongside the new user.
func (s *Service) Register(name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	if name == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < 6 {
		return nil, ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(email, string(hash), name)
	if err != nil {
		return nil, err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(user.ID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to stamp last login")
	}

	s.log.Info().Int64("user_id", user.ID).Msg("User registered")
	return &Session{Token: token, User: user.Public()}, nil
}

// Login verifies credentials and returns a fresh token. Unknown emails and
// wrong passwords return the same error so the response does not reveal
// which accounts exist.
func (s *Service) Login(email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(user.ID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to stamp last login")
	}

	s.log.Info().Int64("user_id", user.ID).Msg("User logged in")
	return &Session{Token: token, User: user.Public()}, nil
}

// Profile returns the account details for a user id.
func (s *Service) Profile(userID int64) (*PublicUser, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	pub := user.Public()
	return &pub, nil
}

func (s *Service) issueToken(user *User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Audience:  jwt.ClaimStrings{user.Email},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT and returns the identity it carries.
func (s *Service) VerifyToken(tokenString string) (*Identity, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = errors.New("token rejected")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	identity := &Identity{UserID: userID}
	if len(claims.Audience) > 0 {
		identity.Email = claims.Audience[0]
	}
	return identity, nil
}
