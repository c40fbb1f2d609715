package ws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrMissingUserID    = errors.New("missing user id")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrMissingToken     = errors.New("missing token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrIdentityMismatch = errors.New("token subject does not match user id")

	// ErrVerifierUnavailable means the credential could not be checked at all,
	// e.g. the auth service is down. It is a server fault, not a bad token.
	ErrVerifierUnavailable = errors.New("token verifier unavailable")
)

// TokenVerifier resolves a bearer credential to the user id it was issued for.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// Authenticator admits a connection only when its token belongs to the claimed user.
type Authenticator struct {
	verifier TokenVerifier
}

func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Authenticate checks the userId and token connection parameters. Errors
// other than ErrVerifierUnavailable are admission failures and map to a
// policy-violation close.
func (a *Authenticator) Authenticate(ctx context.Context, rawUserID, token string) (int, error) {
	rawUserID = strings.TrimSpace(rawUserID)
	if rawUserID == "" {
		return 0, ErrMissingUserID
	}
	userID, err := strconv.Atoi(rawUserID)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidUserID
	}

	token = stripBearer(token)
	if token == "" {
		return 0, ErrMissingToken
	}

	subject, err := a.verifier.ValidateToken(ctx, token)
	if err != nil {
		if verifierUnavailable(err) {
			return 0, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if subject != userID {
		return 0, ErrIdentityMismatch
	}
	return userID, nil
}

// closeReason is the short text sent in the rejection close frame.
func closeReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingUserID), errors.Is(err, ErrInvalidUserID):
		return "user id required"
	case errors.Is(err, ErrMissingToken):
		return "token required"
	case errors.Is(err, ErrIdentityMismatch):
		return "token does not match user"
	case errors.Is(err, ErrVerifierUnavailable):
		return "authentication unavailable"
	default:
		return "invalid token"
	}
}

// verifierUnavailable reports transport-class failures from a remote verifier.
func verifierUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

func stripBearer(token string) string {
	fields := strings.Fields(token)
	switch {
	case len(fields) == 0:
		return ""
	case strings.EqualFold(fields[0], "bearer"):
		if len(fields) == 2 {
			return fields[1]
		}
		if len(fields) == 1 {
			return ""
		}
	}
	return strings.TrimSpace(token)
}
