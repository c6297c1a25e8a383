package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2/jwt"
	log "github.com/sirupsen/logrus"

	"nearGoAPI/services"
)

type contextKey string

const (
	ClerkIDKey   contextKey = "clerkID"
	RequesterKey contextKey = "requester"
)

const ScannerKeyHeader = "x-scanner-key"

// SessionVerifier checks a session JWT and returns its subject.
type SessionVerifier func(ctx context.Context, token string) (string, error)

// ClerkVerifier verifies Clerk session tokens. clerk.SetKey must have been called.
func ClerkVerifier(ctx context.Context, token string) (string, error) {
	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{Token: token})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

type Auth struct {
	verify      SessionVerifier
	scannerKeys [][sha256.Size]byte
}

func NewAuth(verify SessionVerifier, scannerKeys []string) *Auth {
	a := &Auth{verify: verify}
	for _, k := range scannerKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		a.scannerKeys = append(a.scannerKeys, sha256.Sum256([]byte(k)))
	}
	return a
}

// validScannerKey compares against every configured key in constant time.
func (a *Auth) validScannerKey(key string) bool {
	if key == "" {
		return false
	}
	given := sha256.Sum256([]byte(key))
	match := 0
	for i := range a.scannerKeys {
		match |= subtle.ConstantTimeCompare(given[:], a.scannerKeys[i][:])
	}
	return match == 1
}

// RequireSession rejects requests without a valid Bearer session token.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		subject, err := a.verify(r.Context(), token)
		if err != nil || subject == "" {
			log.WithError(err).Debug("Session token rejected")
			respondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), ClerkIDKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentifyRequester records who is calling without rejecting anyone. A valid session wins over a
// scanner key; an invalid scanner key is still recorded in hashed form for the audit log.
func (a *Auth) IdentifyRequester(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who := services.Requester{Kind: services.RequesterAnonymous, IP: ClientIP(r)}

		if key := r.Header.Get(ScannerKeyHeader); key != "" {
			who.ScannerKeyHash = services.HashScannerKey(key)
			if a.validScannerKey(key) {
				who.Kind = services.RequesterScanner
			}
		}

		ctx := r.Context()
		if token, ok := bearerToken(r); ok {
			if subject, err := a.verify(ctx, token); err == nil && subject != "" {
				who.Kind = services.RequesterSession
				who.Subject = subject
				ctx = context.WithValue(ctx, ClerkIDKey, subject)
			}
		}

		ctx = context.WithValue(ctx, RequesterKey, who)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClerkID extracts the Clerk user ID from context
func GetClerkID(ctx context.Context) (string, bool) {
	clerkID, ok := ctx.Value(ClerkIDKey).(string)
	return clerkID, ok && clerkID != ""
}

func GetRequester(ctx context.Context) services.Requester {
	who, ok := ctx.Value(RequesterKey).(services.Requester)
	if !ok {
		return services.Requester{Kind: services.RequesterAnonymous}
	}
	return who
}

// trustedProxyHops is how many proxies in front of the service append to X-Forwarded-For.
var trustedProxyHops = 1

// SetTrustedProxyHops configures ClientIP. Zero ignores X-Forwarded-For entirely.
func SetTrustedProxyHops(n int) {
	if n < 0 {
		n = 0
	}
	trustedProxyHops = n
}

// ClientIP returns the address the outermost trusted proxy saw. Entries left of it in
// X-Forwarded-For are client supplied and ignored.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" && trustedProxyHops > 0 {
		hops := strings.Split(fwd, ",")
		i := len(hops) - trustedProxyHops
		if i < 0 {
			i = 0
		}
		if ip := strings.TrimSpace(hops[i]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func respondWithError(w http.ResponseWriter, code int, errCode string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": errCode})
}
