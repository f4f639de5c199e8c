package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "access-secret-32-chars-long!!!!!"

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func claimsFor(userID, role, issuer string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
}

func TestVerifier(t *testing.T) {
	v := NewVerifier(testSecret, "symptomtracker")
	userID := uuid.New().String()

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.Verify(sign(t, testSecret, claimsFor(userID, "", "symptomtracker", time.Minute)))
		require.NoError(t, err)
		id, err := claims.UserUUID()
		require.NoError(t, err)
		assert.Equal(t, userID, id.String())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify("invalid-token")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.Verify(sign(t, "another-secret-32-chars-long!!!!", claimsFor(userID, "", "symptomtracker", time.Minute)))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := v.Verify(sign(t, testSecret, claimsFor(userID, "", "symptomtracker", -time.Second)))
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := v.Verify(sign(t, testSecret, claimsFor(userID, "", "someone-else", time.Minute)))
		assert.Error(t, err)
	})

	t.Run("uid is not a uuid", func(t *testing.T) {
		_, err := v.Verify(sign(t, testSecret, claimsFor("user-123", "", "symptomtracker", time.Minute)))
		assert.Error(t, err)
	})
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(testSecret, "symptomtracker")
	userID := uuid.New()

	var seen uuid.UUID
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"ok", "Bearer " + sign(t, testSecret, claimsFor(userID.String(), "", "symptomtracker", time.Minute)), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, userID, seen)
}

func TestRequireRole(t *testing.T) {
	v := NewVerifier(testSecret, "")
	h := Middleware(v)(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	for role, want := range map[string]int{"": http.StatusForbidden, "admin": http.StatusOK} {
		req := httptest.NewRequest(http.MethodDelete, "/", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, testSecret, claimsFor(uuid.NewString(), role, "x", time.Minute)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %q", role)
	}
}
