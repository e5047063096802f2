package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngoyal88/docgen/pkg/users"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeDirectory struct {
	users map[string]*users.User
	err   error
}

func (d *fakeDirectory) Get(_ context.Context, id string) (*users.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return u, nil
}

var (
	alice = &users.User{ID: "u-alice", Email: "alice@example.com", Role: users.RoleUser}
	root  = &users.User{ID: "u-root", Email: "root@example.com", Role: users.RoleAdmin}
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer(testSecret, "docgen", time.Hour)
	require.NoError(t, err)
	return ti
}

// whoami echoes the authenticated user id, or "anonymous".
var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if u, ok := UserFromContext(r.Context()); ok {
		_, _ = w.Write([]byte(u.ID))
		return
	}
	_, _ = w.Write([]byte("anonymous"))
})

func serve(h http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewTokenIssuerRejectsShortSecret(t *testing.T) {
	_, err := NewTokenIssuer("short", "docgen", time.Hour)
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	ti := newIssuer(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ti.now = func() time.Time { return now }

	token, exp, err := ti.Issue(alice)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	claims, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.Subject)
	assert.Equal(t, alice.Email, claims.Email)
	assert.Equal(t, users.RoleUser, claims.Role)
	assert.Equal(t, "docgen", claims.Issuer)
}

func TestTokenParseFailures(t *testing.T) {
	ti := newIssuer(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ti.now = func() time.Time { return now }
	valid, _, err := ti.Issue(alice)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := *ti
		later.now = func() time.Time { return now.Add(2 * time.Hour) }
		_, err := later.Parse(valid)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenIssuer("ffffffffffffffffffffffffffffffff", "docgen", time.Hour)
		require.NoError(t, err)
		other.now = ti.now
		_, err = other.Parse(valid)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := *ti
		other.issuer = "someone-else"
		_, err := other.Parse(valid)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
			Subject:   alice.ID,
			Issuer:    "docgen",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = ti.Parse(unsigned)
		assert.Error(t, err)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject: alice.ID,
			Issuer:  "docgen",
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = ti.Parse(token)
		assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
	})
}

func TestAuthenticate(t *testing.T) {
	ti := newIssuer(t)
	dir := &fakeDirectory{users: map[string]*users.User{alice.ID: alice}}
	token, _, err := ti.Issue(alice)
	require.NoError(t, err)
	ghost, _, err := ti.Issue(&users.User{ID: "u-ghost", Role: users.RoleUser})
	require.NoError(t, err)

	required := Authenticate(ti, dir, true)(whoami)
	optional := Authenticate(ti, dir, false)(whoami)

	tests := []struct {
		name   string
		h      http.Handler
		header map[string]string
		status int
		body   string
	}{
		{"valid token", required, map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, alice.ID},
		{"lowercase scheme", required, map[string]string{"Authorization": "bearer " + token}, http.StatusOK, alice.ID},
		{"missing header", required, nil, http.StatusUnauthorized, ""},
		{"wrong scheme", required, map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"garbage token", required, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"deleted user", required, map[string]string{"Authorization": "Bearer " + ghost}, http.StatusUnauthorized, ""},
		{"optional anonymous", optional, nil, http.StatusOK, "anonymous"},
		{"optional bad token", optional, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.h, tt.header)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAuthenticateDirectoryDown(t *testing.T) {
	ti := newIssuer(t)
	token, _, err := ti.Issue(alice)
	require.NoError(t, err)

	h := Authenticate(ti, &fakeDirectory{err: errors.New("redis down")}, true)(whoami)
	rec := serve(h, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthenticateUsesCurrentRole(t *testing.T) {
	ti := newIssuer(t)
	promoted := *alice
	promoted.Role = users.RoleAdmin
	dir := &fakeDirectory{users: map[string]*users.User{alice.ID: &promoted}}

	token, _, err := ti.Issue(alice)
	require.NoError(t, err)

	h := Authenticate(ti, dir, true)(RequireRole(users.RoleAdmin)(whoami))
	rec := serve(h, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(users.RoleAdmin)(whoami)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithUser(req.Context(), alice)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithUser(req.Context(), root)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, root.ID, rec.Body.String())
}

func TestAdminKey(t *testing.T) {
	ti := newIssuer(t)
	dir := &fakeDirectory{users: map[string]*users.User{}}
	h := AdminKey("s3cret-admin")(Authenticate(ti, dir, true)(RequireRole(users.RoleAdmin)(whoami)))

	rec := serve(h, map[string]string{"X-Admin-Key": "s3cret-admin"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, adminKeyUser.ID, rec.Body.String())

	rec = serve(h, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	disabled := AdminKey("")(whoami)
	rec = serve(disabled, map[string]string{"X-Admin-Key": "anything"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
