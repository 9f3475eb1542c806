// Package auth is the credential collaborator: it verifies passwords and
// issues the signed tokens that carry the actor identity into the engine.
// It is deliberately separate from the lifecycle engine.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"taskrouter/backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const TokenIssuer = "taskrouter-backend"

var ErrInvalidCredentials = errors.New("invalid username or password")

type Service struct {
	db         *gorm.DB
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
}

func NewService(db *gorm.DB, secret string, tokenTTL time.Duration, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
	}
}

// Login verifies the credentials and returns a signed token plus the user.
// Stored hashes are bcrypt; accounts migrated from the legacy system may
// still hold an unsalted SHA-256 hex digest, which is accepted once and
// transparently rehashed to bcrypt on successful login.
func (s *Service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Role").
		First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("user lookup: %w", err)
	}
	if !user.IsActive {
		return "", nil, ErrInvalidCredentials
	}

	switch {
	case bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil:
	case s.matchesLegacyHash(user.Password, password):
		s.rehash(ctx, &user, password)
	default:
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(&user)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// matchesLegacyHash checks an unsalted SHA-256 hex digest, the format the
// pre-migration system stored.
func (s *Service) matchesLegacyHash(stored, password string) bool {
	if len(stored) != hex.EncodedLen(sha256.Size) {
		return false
	}
	sum := sha256.Sum256([]byte(password))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) == 1
}

func (s *Service) rehash(ctx context.Context, user *models.User, password string) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		log.WithError(err).Warn("legacy hash rehash failed")
		return
	}
	err = s.db.WithContext(ctx).Model(user).
		Update("password", string(hashed)).Error
	if err != nil {
		log.WithError(err).Warn("legacy hash rehash failed")
		return
	}
	user.Password = string(hashed)
	log.WithField("user_id", user.ID).Info("legacy password hash upgraded")
}

func (s *Service) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": user.ID.String(),
		"role":    user.Role.Name,
		"iss":     TokenIssuer,
		"iat":     now.Unix(),
		"exp":     now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// HashPassword is used when provisioning users.
func (s *Service) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}
