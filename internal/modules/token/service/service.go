package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	userRepo "anoa.com/taskhub/internal/modules/user/repository"
	"anoa.com/taskhub/pkg/apperror"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthResult is the outcome of credential verification. Reason is nil
// when Valid; otherwise it is one of the apperror token reasons.
type AuthResult struct {
	UserID   uuid.UUID
	Username string
	JTI      string
	Valid    bool
	Reason   error
}

// Validator verifies signed access credentials against the revocation
// set. Successful results are cached keyed by a hash of the credential,
// TTL bounded by the credential's remaining lifetime, so cache reuse can
// never outlive the token. Revocation proactively drops the cache entry
// but TTL expiry is the safety net.
type Validator struct {
	secret      []byte
	users       userRepo.UserRepository
	cache       ResultCache
	revocations RevocationList
	cacheTTL    time.Duration
}

func NewValidator(secret string, users userRepo.UserRepository, cache ResultCache, revocations RevocationList, cacheTTL time.Duration) *Validator {
	return &Validator{
		secret:      []byte(secret),
		users:       users,
		cache:       cache,
		revocations: revocations,
		cacheTTL:    cacheTTL,
	}
}

func invalid(reason error) AuthResult {
	return AuthResult{Reason: reason}
}

func (v *Validator) Validate(ctx context.Context, credential string) AuthResult {
	if credential == "" {
		return invalid(apperror.ErrTokenMalformed)
	}

	cacheKey := credentialKey(credential)
	if userID, ok := v.cache.Get(ctx, cacheKey); ok {
		user, err := v.users.FindActiveByID(ctx, userID)
		if err == nil {
			return AuthResult{UserID: user.ID, Username: user.Username, Valid: true}
		}
		// Identity deactivated since the credential was cached.
		v.cache.Delete(ctx, cacheKey)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return invalid(apperror.ErrTokenExpired)
		}
		return invalid(apperror.ErrTokenMalformed)
	}

	// A credential without an expiry is not time-bound and is refused.
	if claims.ExpiresAt == nil {
		return invalid(apperror.ErrTokenMalformed)
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return invalid(apperror.ErrTokenExpired)
	}

	if claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			// Revocation store down: proceed on signature + expiry
			// alone, the cache TTL bounds the exposure window.
			log.Printf("[token] revocation check failed: %v", err)
		} else if revoked {
			return invalid(apperror.ErrTokenRevoked)
		}
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return invalid(apperror.ErrTokenMalformed)
	}

	user, err := v.users.FindActiveByID(ctx, userID)
	if err != nil {
		return invalid(apperror.ErrUnknownIdentity)
	}

	ttl := v.cacheTTL
	if remaining < ttl {
		ttl = remaining
	}
	v.cache.Set(ctx, cacheKey, user.ID, ttl)

	return AuthResult{UserID: user.ID, Username: user.Username, JTI: claims.ID, Valid: true}
}

// Revoke adds the credential's jti to the revocation set for its
// remaining lifetime and drops the cached result. Signature and expiry
// are still checked so garbage input cannot poison the set.
func (v *Validator) Revoke(ctx context.Context, credential string) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.ID == "" || claims.ExpiresAt == nil {
		return apperror.ErrTokenMalformed
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil // Already expired, nothing to revoke.
	}
	if err := v.revocations.Revoke(ctx, claims.ID, remaining); err != nil {
		return err
	}
	v.cache.Delete(ctx, credentialKey(credential))
	return nil
}

func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
