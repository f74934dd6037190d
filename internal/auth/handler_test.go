package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayush/task-manager/internal/middleware"
	"github.com/ayush/task-manager/internal/models"
	"github.com/ayush/task-manager/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// fakeLimiter locks an email out after max failures.
type fakeLimiter struct {
	max      int
	failures map[string]int
	err      error
}

func newFakeLimiter(max int) *fakeLimiter {
	return &fakeLimiter{max: max, failures: map[string]int{}}
}

func (l *fakeLimiter) Allowed(_ context.Context, email string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return l.failures[email] < l.max, nil
}

func (l *fakeLimiter) Failed(_ context.Context, email string) error {
	l.failures[email]++
	return nil
}

func (l *fakeLimiter) Reset(_ context.Context, email string) error {
	delete(l.failures, email)
	return nil
}

type testServer struct {
	router http.Handler
	store  *store.MemoryStore
}

// fakeMailer reports every email it is asked to send.
type fakeMailer struct {
	sent chan string
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{sent: make(chan string, 4)}
}

func (m *fakeMailer) SendWelcome(_ context.Context, to, _ string) error {
	m.sent <- "welcome:" + to
	return nil
}

func (m *fakeMailer) SendCancellation(_ context.Context, to, _ string) error {
	m.sent <- "cancellation:" + to
	return nil
}

func (m *fakeMailer) next(t *testing.T) string {
	t.Helper()
	select {
	case got := <-m.sent:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
		return ""
	}
}

func newTestServer(t *testing.T, limiter Limiter) *testServer {
	return newTestServerWithMailer(t, limiter, nil)
}

func newTestServerWithMailer(t *testing.T, limiter Limiter, mailer Notifier) *testServer {
	t.Helper()
	s := store.NewMemoryStore()
	tokens := NewTokens("test-secret", time.Hour)
	h := NewHandler(s, s, store.NewRecordAvatarStore(s), tokens, limiter, mailer, 1000)

	r := chi.NewRouter()
	r.Route("/users", func(r chi.Router) {
		h.Routes(r, middleware.RequireAuth(tokens, s))
	})
	return &testServer{router: r, store: s}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) signup(t *testing.T, name, email, password string) (string, string) {
	t.Helper()
	body := `{"name":"` + name + `","email":"` + email + `","password":"` + password + `"}`
	w := ts.do(t, http.MethodPost, "/users", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		User  map[string]any `json:"user"`
		Token string         `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.User["_id"].(string), resp.Token
}

func TestSignup(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/users", "", `{"name":" Andrew ","email":" Andrew@Example.com ","password":"MyPass777!","age":27}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		User  map[string]any `json:"user"`
		Token string         `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Andrew", resp.User["name"])
	assert.Equal(t, "andrew@example.com", resp.User["email"])
	assert.EqualValues(t, 27, resp.User["age"])
	assert.NotContains(t, resp.User, "password")
	assert.NotContains(t, resp.User, "tokens")
	assert.NotEmpty(t, resp.Token)

	stored, err := ts.store.FindByEmail(context.Background(), "andrew@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "MyPass777!", stored.Password)
	assert.True(t, CheckPassword(stored.Password, "MyPass777!"))
	assert.Len(t, stored.Tokens, 1)
}

func TestSignup_Invalid(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.signup(t, "Mike", "mike@example.com", "56what!!")

	for name, body := range map[string]string{
		"missing name":       `{"email":"a@example.com","password":"MyPass777!"}`,
		"bad email":          `{"name":"A","email":"not-an-email","password":"MyPass777!"}`,
		"short password":     `{"name":"A","email":"a@example.com","password":"abc"}`,
		"password in text":   `{"name":"A","email":"a@example.com","password":"myPassword1"}`,
		"negative age":       `{"name":"A","email":"a@example.com","password":"MyPass777!","age":-1}`,
		"duplicate email":    `{"name":"A","email":"MIKE@example.com","password":"MyPass777!"}`,
		"wrong type for age": `{"name":"A","email":"a@example.com","password":"MyPass777!","age":"old"}`,
		"name key not exact": `{"Name":"A","email":"a@example.com","password":"MyPass777!"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/users", "", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, nil)
	id, first := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodPost, "/users/login", "", `{"email":"mike@example.com","password":"56what!!"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, first, resp.Token)

	stored, err := ts.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, stored.Tokens, 2)
	assert.Equal(t, resp.Token, stored.Tokens[1].Token)
}

func TestLogin_BadCredentials(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.signup(t, "Mike", "mike@example.com", "56what!!")

	for _, body := range []string{
		`{"email":"mike@example.com","password":"wrong-one"}`,
		`{"email":"nobody@example.com","password":"56what!!"}`,
		`{}`,
	} {
		w := ts.do(t, http.MethodPost, "/users/login", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Unable to login"}`, w.Body.String())
	}
}

func TestLogin_Throttled(t *testing.T) {
	limiter := newFakeLimiter(2)
	ts := newTestServer(t, limiter)
	ts.signup(t, "Mike", "mike@example.com", "56what!!")

	bad := `{"email":"mike@example.com","password":"wrong-one"}`
	good := `{"email":"mike@example.com","password":"56what!!"}`

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/users/login", "", bad).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/users/login", "", bad).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/users/login", "", good).Code)

	delete(limiter.failures, "mike@example.com")
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/login", "", good).Code)
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	limiter := newFakeLimiter(3)
	ts := newTestServer(t, limiter)
	ts.signup(t, "Mike", "mike@example.com", "56what!!")

	ts.do(t, http.MethodPost, "/users/login", "", `{"email":"mike@example.com","password":"nope-nope"}`)
	require.Equal(t, 1, limiter.failures["mike@example.com"])

	w := ts.do(t, http.MethodPost, "/users/login", "", `{"email":"MIKE@example.com","password":"56what!!"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, limiter.failures["mike@example.com"])
}

func TestLogin_LimiterDownFailsOpen(t *testing.T) {
	limiter := newFakeLimiter(1)
	limiter.err = errors.New("redis down")
	ts := newTestServer(t, limiter)
	ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodPost, "/users/login", "", `{"email":"mike@example.com","password":"56what!!"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t, nil)
	id, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodGet, "/users/me", token, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, id, got["_id"])

	w = ts.do(t, http.MethodGet, "/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodPost, "/users/login", "", `{"email":"mike@example.com","password":"56what!!"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var second models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/logout", token, "").Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me", token, "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/users/me", second.Token, "").Code)
}

func TestLogoutAll(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodPost, "/users/login", "", `{"email":"mike@example.com","password":"56what!!"}`)
	var second models.AuthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/logoutAll", token, "").Code)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me", token, "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me", second.Token, "").Code)
}

func TestUpdateMe(t *testing.T) {
	ts := newTestServer(t, nil)
	id, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodPatch, "/users/me", token, `{"name":"Jess","age":30,"password":"NewPass123"}`)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := ts.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Jess", stored.Name)
	assert.Equal(t, 30, stored.Age)
	assert.True(t, CheckPassword(stored.Password, "NewPass123"))
}

func TestUpdateMe_InvalidField(t *testing.T) {
	ts := newTestServer(t, nil)
	id, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := ts.do(t, http.MethodPatch, "/users/me", token, `{"location":"Philadelphia"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid updates"}`, w.Body.String())

	stored, err := ts.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Mike", stored.Name)
}

func TestUpdateMe_InvalidValues(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.signup(t, "Robo", "robo@example.com", "56what!!")
	id, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")
	before, err := ts.store.FindByID(context.Background(), id)
	require.NoError(t, err)

	for _, body := range []string{
		`{"name":"  "}`,
		`{"email":"not-an-email"}`,
		`{"email":"robo@example.com"}`,
		`{"password":"short"}`,
		`{"password":"password123"}`,
		`{"age":-5}`,
		`{"name":null}`,
		`{"email":null}`,
		`{"password":null,"age":40}`,
	} {
		t.Run(body, func(t *testing.T) {
			w := ts.do(t, http.MethodPatch, "/users/me", token, body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	stored, err := ts.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Mike", stored.Name)
	assert.Equal(t, "mike@example.com", stored.Email)
	assert.Zero(t, stored.Age)
	assert.Equal(t, before.UpdatedAt, stored.UpdatedAt)
}

// sessionlessStore cannot persist tokens.
type sessionlessStore struct {
	*store.MemoryStore
}

func (sessionlessStore) AddToken(context.Context, string, string) error {
	return errors.New("token write failed")
}

func TestSignup_SessionFailureRemovesUser(t *testing.T) {
	s := store.NewMemoryStore()
	users := sessionlessStore{s}
	tokens := NewTokens("test-secret", time.Hour)
	h := NewHandler(users, s, store.NewRecordAvatarStore(s), tokens, nil, nil, 1000)
	r := chi.NewRouter()
	r.Route("/users", func(r chi.Router) {
		h.Routes(r, middleware.RequireAuth(tokens, s))
	})
	ts := &testServer{router: r, store: s}

	w := ts.do(t, http.MethodPost, "/users", "", `{"name":"Mike","email":"mike@example.com","password":"56what!!"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	_, err := s.FindByEmail(context.Background(), "mike@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMe_Cascades(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	id, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")
	otherID, _ := ts.signup(t, "Robo", "robo@example.com", "56what!!")

	require.NoError(t, ts.store.Insert(ctx, &models.Task{Description: "mine", Owner: id}))
	require.NoError(t, ts.store.Insert(ctx, &models.Task{Description: "theirs", Owner: otherID}))
	require.NoError(t, ts.store.SetAvatar(ctx, id, pngHeader, "image/png"))

	w := ts.do(t, http.MethodDelete, "/users/me", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	_, err := ts.store.FindByID(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	mine, err := ts.store.List(ctx, id, store.TaskQuery{})
	require.NoError(t, err)
	assert.Empty(t, mine)
	theirs, err := ts.store.List(ctx, otherID, store.TaskQuery{})
	require.NoError(t, err)
	assert.Len(t, theirs, 1)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/users/me", token, "").Code)
}

func TestAccountEmails(t *testing.T) {
	mailer := newFakeMailer()
	ts := newTestServerWithMailer(t, nil, mailer)

	_, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")
	assert.Equal(t, "welcome:mike@example.com", mailer.next(t))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/users/me", token, "").Code)
	assert.Equal(t, "cancellation:mike@example.com", mailer.next(t))
}

func avatarRequest(t *testing.T, token, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "profile.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/users/me/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAvatar_UploadServeDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	id, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, avatarRequest(t, token, "avatar", pngHeader))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/users/"+id+"/avatar", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, w.Body.Bytes())

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/users/me/avatar", token, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/users/"+id+"/avatar", "", "").Code)
}

func TestAvatar_Rejected(t *testing.T) {
	ts := newTestServer(t, nil)
	_, token := ts.signup(t, "Mike", "mike@example.com", "56what!!")

	tests := []struct {
		name  string
		field string
		data  []byte
	}{
		{"not an image", "avatar", []byte("%PDF-1.4 not a picture")},
		{"wrong field", "upload", pngHeader},
		{"too large", "avatar", append(append([]byte{}, pngHeader...), make([]byte, 2000)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ts.router.ServeHTTP(w, avatarRequest(t, token, tt.field, tt.data))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAvatar_UnknownUser(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/users/unknown/avatar", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
