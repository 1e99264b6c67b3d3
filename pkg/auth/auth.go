package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"salescoach-server/pkg/config"
	"salescoach-server/pkg/database"
)

const (
	// bcryptCost is the cost factor for bcrypt hashing (10-14 recommended for production)
	bcryptCost = 12

	tokenAudience = "salescoach-api"
)

// UserSource looks up account records for authentication.
type UserSource interface {
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	TouchUserLogin(ctx context.Context, id string) error
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates JWT tokens backed by the users table
type Authenticator struct {
	users       UserSource
	secretKey   []byte
	issuer      string
	tokenExpiry time.Duration
	logger      *logrus.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(cfg config.AuthConfig, users UserSource, logger *logrus.Logger) *Authenticator {
	var secret []byte
	if cfg.JWTSecret != "" {
		secret = []byte(cfg.JWTSecret)
	} else {
		// Generate random secret if not provided
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.WithError(err).Error("Failed to generate JWT secret")
		}
		logger.Warning("No JWT secret provided, using generated key")
	}

	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &Authenticator{
		users:       users,
		secretKey:   secret,
		issuer:      cfg.Issuer,
		tokenExpiry: expiry,
		logger:      logger,
	}
}

// HashPassword hashes a plaintext password with bcrypt
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Login authenticates a user by email and password and returns a JWT token
func (a *Authenticator) Login(ctx context.Context, email, password string) (string, *database.User, error) {
	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil || user == nil || !user.IsActive {
		// Hash a dummy password to keep response time consistent
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$dummy.hash.for.timing.attack.prevention"), []byte(password))
		return "", nil, fmt.Errorf("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		a.logger.WithField("email", email).Warn("Failed login attempt - invalid password")
		return "", nil, fmt.Errorf("invalid email or password")
	}

	token, err := a.GenerateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := a.users.TouchUserLogin(ctx, user.ID); err != nil {
		a.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to record login time")
	}

	a.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
	}).Info("User login successful")

	return token, user, nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.Issuer != a.issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	return claims, nil
}

// GenerateToken creates a JWT token for a user
func (a *Authenticator) GenerateToken(user *database.User) (string, error) {
	now := time.Now()

	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   user.ID,
			Audience:  []string{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        a.generateJTI(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// generateJTI generates a unique token ID
func (a *Authenticator) generateJTI() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		a.logger.WithError(err).Error("Failed to generate JWT ID")
	}
	return hex.EncodeToString(bytes)
}
