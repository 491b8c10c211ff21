package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"
)

func TestPasswordRoundTrip(t *testing.T) {
	is := is.New(t)
	hash, err := HashPassword("hunter22")
	is.NoErr(err)
	is.True(hash != "hunter22")
	is.True(CheckPassword("hunter22", hash))
	is.True(!CheckPassword("hunter23", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	is := is.New(t)
	signer := NewSigner("secret")
	token, err := signer.Issue("alice", true)
	is.NoErr(err)

	claims, err := signer.Verify(token)
	is.NoErr(err)
	is.Equal(claims.Username, "alice")
	is.Equal(claims.IsAdmin, true)
}

func TestTokenWrongSecret(t *testing.T) {
	is := is.New(t)
	token, err := NewSigner("secret").Issue("alice", false)
	is.NoErr(err)
	_, err = NewSigner("other-secret").Verify(token)
	is.Equal(err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	is := is.New(t)
	_, err := NewSigner("secret").Verify("not.a.token")
	is.Equal(err, ErrInvalidToken)
}

func TestMiddlewareRejectsAsJSON(t *testing.T) {
	is := is.New(t)
	signer := NewSigner("secret")
	h := signer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	is.Equal(w.Code, http.StatusUnauthorized)
	is.Equal(w.Header().Get("Content-Type"), "application/json")
	var body map[string]string
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &body))
	is.Equal(body["error"], ErrNoToken.Error())

	token, err := signer.Issue("alice", false)
	is.NoErr(err)
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	is.Equal(w.Code, http.StatusOK)
}

func TestFromRequest(t *testing.T) {
	is := is.New(t)
	signer := NewSigner("secret")
	token, err := signer.Issue("bob", false)
	is.NoErr(err)

	r := httptest.NewRequest("GET", "/", nil)
	_, err = signer.FromRequest(r)
	is.Equal(err, ErrNoToken)

	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := signer.FromRequest(r)
	is.NoErr(err)
	is.Equal(claims.Username, "bob")

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = signer.FromRequest(r)
	is.Equal(err, ErrNoToken)
}
