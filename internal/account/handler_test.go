package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/go-user-service/internal/auth"
	"github.com/redmonkez12/go-user-service/internal/httputil"
	"github.com/redmonkez12/go-user-service/internal/logging"
)

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(svc)
	mw := auth.NewMiddleware(svc)

	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth)
		r.Get("/me", h.Me)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandler_Register(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env.service)

	rec := doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"username":   "alice",
		"email":      "alice@x.com",
		"password":   "secret1",
		"first_name": "Alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "alice@x.com", body["email"])
	assert.Equal(t, "Alice", body["first_name"])
	assert.Nil(t, body["last_name"])
	assert.Equal(t, true, body["is_active"])
	assert.Contains(t, body, "id")
	assert.Contains(t, body, "created_at")
	assert.Contains(t, body, "updated_at")
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "PasswordHash")
}

func TestHandler_RegisterRejections(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env.service)
	env.register(t, "alice", "alice@x.com", "secret1")

	rec := doJSON(t, router, http.MethodPost, "/register", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidRequestBody, decodeError(t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"username": "al", "email": "bad", "password": "123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, httputil.CodeValidationFailed, body.Code)
	assert.Equal(t, "username", body.Field)
	assert.Len(t, body.Fields, 3)

	rec = doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"username": "alice", "email": "other@x.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, httputil.CodeUsernameExists, body.Code)
	assert.Equal(t, "username", body.Field)

	rec = doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"username": "other", "email": "alice@x.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, httputil.CodeEmailExists, body.Code)
	assert.Equal(t, "email", body.Field)
}

func TestHandler_OversizedBody(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env.service)

	huge := `{"username":"bob","email":"bob@x.com","password":"secret1","first_name":"` +
		strings.Repeat("a", maxBodyBytes) + `"}`
	rec := doJSON(t, router, http.MethodPost, "/register", "", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeInvalidRequestBody, decodeError(t, rec).Code)

	u, err := env.store.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env.service)
	env.register(t, "alice", "alice@x.com", "secret1")

	rec := doJSON(t, router, http.MethodPost, "/login", "", LoginRequest{Username: "alice", Password: "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var token AccessToken
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
	assert.NotEmpty(t, token.AccessToken)

	wrong := doJSON(t, router, http.MethodPost, "/login", "", LoginRequest{Username: "alice", Password: "nope-nope"})
	unknown := doJSON(t, router, http.MethodPost, "/login", "", LoginRequest{Username: "mallory", Password: "secret1"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/login", "", "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ProtectedRoutes(t *testing.T) {
	env := newTestEnv(t)
	router := newTestRouter(env.service)
	alice := env.register(t, "alice", "alice@x.com", "secret1")
	bob := env.register(t, "bob", "bob@x.com", "secret2")
	token, err := env.service.Login(t.Context(), "alice", "secret1")
	require.NoError(t, err)
	tok := token.AccessToken

	rec := doJSON(t, router, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httputil.CodeInvalidToken, decodeError(t, rec).Code)

	rec = doJSON(t, router, http.MethodGet, "/me", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/"+itoa(bob.ID), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/0", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, httputil.CodeUserNotFound, decodeError(t, rec).Code)

	rec = doJSON(t, router, http.MethodGet, "/99999999999999999999", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/"+itoa(bob.ID), tok, map[string]any{"first_name": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeForbidden, decodeError(t, rec).Code)

	rec = doJSON(t, router, http.MethodDelete, "/"+itoa(bob.ID), tok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/"+itoa(alice.ID), tok, "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/"+itoa(alice.ID), tok, map[string]any{"email": "bob@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, httputil.CodeEmailExists, decodeError(t, rec).Code)

	// null is the same as leaving the field out
	rec = doJSON(t, router, http.MethodPut, "/"+itoa(alice.ID), tok, `{"first_name": null, "last_name": "Smith"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Nil(t, body["first_name"])
	assert.Equal(t, "Smith", body["last_name"])
}

func TestRespondServiceError_Internal(t *testing.T) {
	rec := httptest.NewRecorder()
	respondServiceError(rec, logging.New(slog.NewTextHandler(io.Discard, nil)), errors.New("db exploded"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, httputil.CodeInternalError, body.Code)
	assert.NotContains(t, body.Error, "exploded")
}
