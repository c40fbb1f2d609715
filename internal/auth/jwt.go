package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no subject")
)

// JWTVerifier validates HMAC-signed session tokens minted by the account service.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
}

// NewJWTVerifier builds a verifier for the shared HMAC secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, leeway: 30 * time.Second}
}

// ValidateToken verifies the signature and expiry and returns the subject user id.
func (v *JWTVerifier) ValidateToken(_ context.Context, token string) (int, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return 0, ErrInvalidToken
	}

	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwtlib.WithLeeway(v.leeway))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return 0, errors.New("claims type mismatch")
	}
	return subjectFromClaims(claims)
}

// subjectFromClaims reads "sub", falling back to the legacy "id" claim.
func subjectFromClaims(claims jwtlib.MapClaims) (int, error) {
	for _, key := range []string{"sub", "id"} {
		raw, ok := claims[key]
		if !ok {
			continue
		}
		id, err := toUserID(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: claim %s: %v", ErrInvalidToken, key, err)
		}
		return id, nil
	}
	return 0, ErrMissingSubject
}

func toUserID(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case string:
		id, err := strconv.Atoi(v)
		if err != nil {
			return 0, err
		}
		if id <= 0 {
			return 0, fmt.Errorf("non-positive id %d", id)
		}
		return id, nil
	case float64:
		if v <= 0 || v != math.Trunc(v) || v > math.MaxInt32 {
			return 0, fmt.Errorf("bad numeric id %v", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("unsupported id type %T", raw)
	}
}

// Sign mints a token for userID; used by tests and local tooling.
func Sign(secret []byte, userID int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": strconv.Itoa(userID),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
}
