package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type uidRecorder struct {
	*httptest.ResponseRecorder
	uid string
}

func (r *uidRecorder) SetUserID(uid string) { r.uid = uid }

func serveAuth(t *testing.T, authn *Authenticator, header string, roles ...string) (*httptest.ResponseRecorder, *Identity, string) {
	t.Helper()
	var seen *Identity
	handler := authn.RequireUser(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := &uidRecorder{ResponseRecorder: httptest.NewRecorder()}
	handler.ServeHTTP(rec, req)
	return rec.ResponseRecorder, seen, rec.uid
}

func TestRequireUserAcceptsToken(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "uid-1",
		Claims: map[string]any{"email": " shopper@example.com ", "role": []any{"Staff", "staff", 3}},
	}}

	rec, identity, recorded := serveAuth(t, NewAuthenticator(verifier), "Bearer id-token", RoleStaff, RoleAdmin)

	if rec.Code != http.StatusNoContent || identity == nil {
		t.Fatalf("expected request to pass, got %d", rec.Code)
	}
	if verifier.received != "id-token" || identity.UID != "uid-1" || identity.Email != "shopper@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 1 || !identity.IsOperator() {
		t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
	}
	if recorded != "uid-1" {
		t.Fatalf("expected uid to be recorded on writer, got %q", recorded)
	}
}

func TestRequireUserDefaultsToUserRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-2", Claims: map[string]any{}}}

	rec, identity, _ := serveAuth(t, NewAuthenticator(verifier), "bearer tok")
	if rec.Code != http.StatusNoContent || !identity.HasRole(RoleUser) || identity.IsOperator() {
		t.Fatalf("expected plain user, got %d %+v", rec.Code, identity)
	}

	rec, _, _ = serveAuth(t, NewAuthenticator(verifier), "Bearer tok", RoleAdmin)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing admin role, got %d", rec.Code)
	}
}

func TestRequireUserRejections(t *testing.T) {
	cases := []struct {
		name     string
		verifier TokenVerifier
		header   string
		status   int
		code     string
	}{
		{"missing header", &stubTokenVerifier{}, "", http.StatusUnauthorized, "unauthenticated"},
		{"wrong scheme", &stubTokenVerifier{}, "Basic abc", http.StatusUnauthorized, "unauthenticated"},
		{"expired", &stubTokenVerifier{err: ErrTokenExpired}, "Bearer x", http.StatusUnauthorized, "token_expired"},
		{"invalid", &stubTokenVerifier{err: errors.New("bad signature")}, "Bearer x", http.StatusUnauthorized, "invalid_token"},
		{"no verifier", nil, "Bearer x", http.StatusServiceUnavailable, "verification_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, identity, _ := serveAuth(t, NewAuthenticator(tc.verifier), tc.header)
			if rec.Code != tc.status || identity != nil {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	if got := rolesFromClaims(map[string]any{"role": "ADMIN"}); len(got) != 1 || got[0] != RoleAdmin {
		t.Fatalf("unexpected roles %v", got)
	}
	got := rolesFromClaims(map[string]any{"role": map[string]any{"staff": true, "admin": false}})
	if len(got) != 1 || got[0] != RoleStaff {
		t.Fatalf("unexpected roles %v", got)
	}
	if got := rolesFromClaims(map[string]any{"role": 42}); len(got) != 0 {
		t.Fatalf("expected no roles, got %v", got)
	}
}
