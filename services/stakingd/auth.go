package stakingd

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type callerKey struct{}

// Authenticator resolves bearer tokens to caller identities.
type Authenticator struct {
	identities map[string]common.Address
}

// NewAuthenticator constructs an Authenticator from a token to address map.
func NewAuthenticator(tokens map[string]string) (*Authenticator, error) {
	identities := make(map[string]common.Address, len(tokens))
	for token, identity := range tokens {
		token = strings.TrimSpace(token)
		identity = strings.TrimSpace(identity)
		if token == "" {
			continue
		}
		if !common.IsHexAddress(identity) {
			return nil, fmt.Errorf("identity %q is not a hex address", identity)
		}
		identities[token] = common.HexToAddress(identity)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("at least one bearer token must be configured")
	}
	return &Authenticator{identities: identities}, nil
}

// Middleware rejects requests without a known bearer token and stores the
// caller identity on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeError(w, http.StatusInternalServerError, "authentication_unavailable", "authentication unavailable", nil)
			return
		}
		caller, ok := a.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (common.Address, bool) {
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return common.Address{}, false
	}
	for candidate, identity := range a.identities {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return identity, true
		}
	}
	return common.Address{}, false
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
