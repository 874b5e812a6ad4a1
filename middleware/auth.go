package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2/jwt"
	"github.com/google/uuid"
)

type contextKey string

const UserKeyKey contextKey = "userKey"
const DeviceIDKey contextKey = "deviceID"

// AnonPrefix marks user keys derived from an anonymous device key.
const AnonPrefix = "anon:"

// AuthMiddleware resolves the stable opaque user key every request runs
// under. Two paths: a verified Clerk bearer token (persistent identity),
// or an X-Device-Key UUID (anonymous-by-default install). The rest of the
// system only ever sees the resulting key.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
			ctx = context.WithValue(ctx, DeviceIDKey, deviceID)
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				respondWithError(w, http.StatusUnauthorized, "Invalid authorization format. Use 'Bearer <token>'")
				return
			}
			claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
				Token: token,
			})
			if err != nil {
				log.Printf("Token verification failed: %v", err)
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx = context.WithValue(ctx, UserKeyKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		deviceKey := r.Header.Get("X-Device-Key")
		if deviceKey == "" {
			respondWithError(w, http.StatusUnauthorized, "Authorization header or X-Device-Key required")
			return
		}
		if _, err := uuid.Parse(deviceKey); err != nil {
			respondWithError(w, http.StatusUnauthorized, "X-Device-Key must be a UUID")
			return
		}
		ctx = context.WithValue(ctx, UserKeyKey, AnonPrefix+deviceKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserKey extracts the resolved user key from context.
func GetUserKey(ctx context.Context) (string, bool) {
	userKey, ok := ctx.Value(UserKeyKey).(string)
	return userKey, ok
}

// GetDeviceID extracts the optional per-install device id from context.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(DeviceIDKey).(string)
	return deviceID, ok
}

// IsAnonymous reports whether a user key came from a device key rather
// than a verified identity.
func IsAnonymous(userKey string) bool {
	return strings.HasPrefix(userKey, AnonPrefix)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(fmt.Sprintf(`{"error": "%s"}`, message)))
}
