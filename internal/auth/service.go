package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidInput       = errors.New("invalid input")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// User represents an account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Claims represents the claims in the JWT.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Service registers users and issues and verifies HS256 session tokens.
// Accounts live in memory.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	byEmail map[string]*User
}

// NewService creates a Service signing tokens with secret, valid for ttl.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
		byEmail: make(map[string]*User),
	}
}

// Register creates an account and signs it in.
func (s *Service) Register(email, password, firstName, lastName string) (User, Session, error) {
	email, err := canonicalEmail(email)
	if err != nil {
		return User{}, Session{}, err
	}
	if len(password) < MinPasswordLength {
		return User{}, Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, Session{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.byEmail[email]; exists {
		s.mu.Unlock()
		return User{}, Session{}, ErrEmailTaken
	}
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	s.byEmail[email] = user
	s.mu.Unlock()

	session, err := s.issue(user)
	if err != nil {
		return User{}, Session{}, err
	}
	return *user, session, nil
}

// Login checks the credentials and returns a fresh session.
func (s *Service) Login(email, password string) (User, Session, error) {
	email, err := canonicalEmail(email)
	if err != nil {
		return User{}, Session{}, ErrInvalidCredentials
	}

	s.mu.RLock()
	user, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok || !CheckPasswordHash(password, user.PasswordHash) {
		return User{}, Session{}, ErrInvalidCredentials
	}

	session, err := s.issue(user)
	if err != nil {
		return User{}, Session{}, err
	}
	return *user, session, nil
}

// Verify parses a bearer token and returns its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) issue(user *User) (Session, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     signed,
		ExpiresAt: expires.UTC(),
	}, nil
}

func canonicalEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

// HashPassword hashes the password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash checks if the password matches the hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
