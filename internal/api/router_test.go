package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/batepapo/internal/chat"
	"github.com/eldtechnologies/batepapo/internal/models"
	"github.com/eldtechnologies/batepapo/internal/store"
)

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	st := store.NewMemoryStore()
	svc := chat.NewService(st, st, zerolog.Nop())
	return NewRouter(zerolog.Nop(), svc, st, opts)
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("user", user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestScenario_RegisterPostAndRead(t *testing.T) {
	h := newTestRouter(t, Options{})

	rr := do(t, h, http.MethodPost, "/participants", "", `{"name":"Alice"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, h, http.MethodPost, "/participants", "", `{"name":"Alice"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/messages", "Alice", `{"to":"Todos","text":"hi","type":"message"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, h, http.MethodGet, "/messages", "Bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Text)
	require.Equal(t, "Alice", msgs[0].From)
	require.Equal(t, models.ArrivalText, msgs[1].Text)

	rr = do(t, h, http.MethodGet, "/messages?limit=1", "Bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Text)

	rr = do(t, h, http.MethodGet, "/participants", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var participants []models.Participant
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &participants))
	require.Len(t, participants, 1)
	require.Equal(t, "Alice", participants[0].Name)
	require.NotZero(t, participants[0].LastStatus)
}

func TestScenario_StatusNotFound(t *testing.T) {
	h := newTestRouter(t, Options{})

	rr := do(t, h, http.MethodPost, "/status", "", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/status", "Ghost", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/participants", "", `{"name":"Alice"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = do(t, h, http.MethodPost, "/status", "Alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRegister_ValidationErrors(t *testing.T) {
	h := newTestRouter(t, Options{})

	for _, body := range []string{`{"name":""}`, `{"name":"   "}`, `{}`, `{"name":"<b></b>"}`} {
		rr := do(t, h, http.MethodPost, "/participants", "", body)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, body)
		var messages []string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messages))
		require.Equal(t, []string{`"name" is required`}, messages)
	}

	rr := do(t, h, http.MethodPost, "/participants", "", `{"name":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPostMessage_ValidationErrors(t *testing.T) {
	h := newTestRouter(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/participants", "", `{"name":"Alice"}`).Code)

	cases := []struct {
		name string
		user string
		body string
	}{
		{"missing user header", "", `{"to":"Todos","text":"hi","type":"message"}`},
		{"unregistered sender", "Ghost", `{"to":"Todos","text":"hi","type":"message"}`},
		{"bad type", "Alice", `{"to":"Todos","text":"hi","type":"status"}`},
		{"empty text", "Alice", `{"to":"Todos","text":" ","type":"message"}`},
		{"missing to", "Alice", `{"text":"hi","type":"private_message"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/messages", tc.user, tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			var messages []string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &messages))
			require.NotEmpty(t, messages)
		})
	}
}

func TestGetMessages_InvalidLimit(t *testing.T) {
	h := newTestRouter(t, Options{})

	for _, limit := range []string{"0", "-1", "abc"} {
		rr := do(t, h, http.MethodGet, "/messages?limit="+limit, "Bob", "")
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, limit)
	}
}

func TestPrivateMessagesAreHidden(t *testing.T) {
	h := newTestRouter(t, Options{})
	for _, name := range []string{"Alice", "Bob"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/participants", "", `{"name":"`+name+`"}`).Code)
	}
	require.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/messages", "Alice", `{"to":"Bob","text":"segredo","type":"private_message"}`).Code)

	visible := func(user string) bool {
		rr := do(t, h, http.MethodGet, "/messages", user, "")
		require.Equal(t, http.StatusOK, rr.Code)
		return strings.Contains(rr.Body.String(), "segredo")
	}
	require.True(t, visible("Alice"))
	require.True(t, visible("Bob"))
	require.False(t, visible("Carol"))
}

func TestHealthAndStats(t *testing.T) {
	h := newTestRouter(t, Options{})
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/participants", "", `{"name":"Alice"}`).Code)

	rr := do(t, h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"healthy"`)

	rr = do(t, h, http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats struct {
		Participants  int64 `json:"participants"`
		TotalMessages int64 `json:"total_messages"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.EqualValues(t, 1, stats.Participants)
	require.EqualValues(t, 1, stats.TotalMessages)

	rr = do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "batepapo_participants_registered_total")
}

func TestRateLimit_RegisterPerIP(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := newTestRouter(t, Options{RateLimitClient: client})

	for i := 0; i < 10; i++ {
		rr := do(t, h, http.MethodPost, "/participants", "", `{"name":"user`+string(rune('a'+i))+`"}`)
		require.Equal(t, http.StatusCreated, rr.Code)
		require.NotEmpty(t, rr.Header().Get("X-RateLimit-Remaining"))
	}

	rr := do(t, h, http.MethodPost, "/participants", "", `{"name":"one-too-many"}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))

	// unlimited routes are unaffected
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", "").Code)
}

func registerFrom(t *testing.T, h http.Handler, name, xff string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(`{"name":"`+name+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", xff)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRateLimit_ForwardedForCannotRotateIdentity(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := newTestRouter(t, Options{RateLimitClient: client})

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusCreated, registerFrom(t, h, "user"+strconv.Itoa(i), "198.51.100."+strconv.Itoa(i)))
	}
	require.Equal(t, http.StatusTooManyRequests, registerFrom(t, h, "one-too-many", "198.51.100.200"))
}

func TestRateLimit_TrustedProxyKeysByClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// httptest requests arrive from 192.0.2.1
	h := newTestRouter(t, Options{RateLimitClient: client, TrustedProxies: []string{"192.0.2.1"}})

	// a client prepending random hops still lands in its own bucket
	for i := 0; i < 10; i++ {
		xff := "203.0.113." + strconv.Itoa(i) + ", 198.51.100.1"
		require.Equal(t, http.StatusCreated, registerFrom(t, h, "user"+strconv.Itoa(i), xff))
	}
	require.Equal(t, http.StatusTooManyRequests, registerFrom(t, h, "spoofer", "203.0.113.99, 198.51.100.1"))

	// other clients behind the same proxy are unaffected
	require.Equal(t, http.StatusCreated, registerFrom(t, h, "neighbour", "198.51.100.2"))
}
