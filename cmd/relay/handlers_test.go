package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/chapterrelay/internal/config"
	"github.com/dreamware/chapterrelay/internal/coordinator"
	"github.com/dreamware/chapterrelay/internal/storage"
	"github.com/dreamware/chapterrelay/internal/transport"
)

type stubStatus struct {
	st  coordinator.Status
	err error
}

func (s stubStatus) Status(context.Context) (coordinator.Status, error) {
	return s.st, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testCORS = config.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET,POST,OPTIONS", AllowedHeaders: "Content-Type", MaxAge: 60}

type apiFixture struct {
	store   *storage.MemoryStore
	handler http.Handler
}

func newAPIFixture(t *testing.T, relay statusSource) *apiFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	srv := newServer(relay, store, discardLogger(), 1<<20)
	ws := http.NotFoundHandler()
	return &apiFixture{store: store, handler: newRouter(srv, ws, testCORS, discardLogger())}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			rdr = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			rdr = bytes.NewReader(b)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, stubStatus{})
	rec, _ := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	st := coordinator.Status{
		Connections: []coordinator.ConnectionStatus{{ID: "c1", Role: coordinator.RoleWorker, Alive: true}},
		Queue:       []coordinator.WorkStatus{{Key: "/ch2", Title: "Two"}},
		InFlight:    &coordinator.WorkStatus{Key: "/ch1", Assignee: "c1", Attempts: 1},
	}
	f := newAPIFixture(t, stubStatus{st: st})
	require.NoError(t, storage.PutString(f.store, "k", "v"))

	rec, body := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/ch1", body["in_flight"].(map[string]any)["work_key"])
	assert.Len(t, body["queue"], 1)
	assert.Len(t, body["connections"], 1)
	assert.Equal(t, float64(1), body["settings"].(map[string]any)["keys"])

	down := newAPIFixture(t, stubStatus{err: coordinator.ErrStopped})
	rec, body = down.do(t, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, coordinator.ErrStopped.Error(), body["error"])
}

func TestStorageEndpoints(t *testing.T) {
	f := newAPIFixture(t, stubStatus{})

	rec, body := f.do(t, http.MethodGet, "/storage/geminiApiKey", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "geminiApiKey")
	assert.Nil(t, body["geminiApiKey"], "unset keys read as null")

	rec, body = f.do(t, http.MethodPost, "/storage", map[string]any{"key": "prefs", "value": map[string]any{"model": "flash"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = f.do(t, http.MethodGet, "/storage/prefs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"model": "flash"}, body["prefs"])

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "empty key", body: map[string]any{"key": "", "value": 1}, status: http.StatusBadRequest},
		{name: "bad json", body: "{", status: http.StatusBadRequest},
		{name: "too large", body: `{"key":"k","value":"` + strings.Repeat("x", 2<<20) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPost, "/storage", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec, _ = f.do(t, http.MethodGet, "/storage", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, stubStatus{})
	req := httptest.NewRequest(http.MethodOptions, "/fs/save-book", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBookEndpoints(t *testing.T) {
	f := newAPIFixture(t, stubStatus{})
	root := t.TempDir()

	t.Run("directory not set", func(t *testing.T) {
		rec, body := f.do(t, http.MethodPost, "/fs/create-book", map[string]string{"bookName": "Novel"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Books directory path is not set.", body["error"])

		rec, body = f.do(t, http.MethodPost, "/fs/save-book", map[string]any{"bookName": "Novel", "bookData": map[string]any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing book directory path or book name.", body["error"])

		rec, _ = f.do(t, http.MethodPost, "/fs/set-books-directory", map[string]string{"path": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rec, _ := f.do(t, http.MethodPost, "/fs/set-books-directory", map[string]string{"path": root})
	require.Equal(t, http.StatusOK, rec.Code)
	dir, err := storage.GetString(f.store, storage.KeyBooksDirectory)
	require.NoError(t, err)
	assert.Equal(t, root, dir)

	t.Run("create", func(t *testing.T) {
		rec, body := f.do(t, http.MethodPost, "/fs/create-book", map[string]string{"bookName": "Novel"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, filepath.Join(root, "Novel"), body["path"])

		rec, body = f.do(t, http.MethodPost, "/fs/create-book", map[string]string{"bookName": "Novel"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, `A book folder named "Novel" already exists.`, body["error"])

		rec, _ = f.do(t, http.MethodPost, "/fs/create-book", map[string]string{"bookName": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = f.do(t, http.MethodPost, "/fs/create-book", map[string]string{"bookName": "../out"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("save and import", func(t *testing.T) {
		rec, body := f.do(t, http.MethodPost, "/fs/save-book", map[string]any{
			"bookName": "Novel",
			"bookData": map[string]any{
				"description": "desc",
				"glossary":    map[string]any{"灵气": map[string]string{"term": "灵气", "chosenRendition": "qi"}},
				"chapters":    []map[string]string{{"title": "Ch 1", "sourceUrl": "/1", "content": "one"}},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `Book "Novel" saved successfully.`, body["message"])

		rec, _ = f.do(t, http.MethodPost, "/fs/save-raw-chapters", map[string]any{
			"bookName":    "Novel",
			"rawChapters": []map[string]string{{"title": "raw"}},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body = f.do(t, http.MethodPost, "/fs/import-books", map[string]string{"booksDirPath": root})
		require.Equal(t, http.StatusOK, rec.Code)
		novel := body["Novel"].(map[string]any)
		assert.Equal(t, "desc", novel["description"])
		assert.Equal(t, map[string]any{}, novel["settings"])
		assert.Len(t, novel["glossary"], 1)
		assert.Equal(t, []any{map[string]any{"title": "raw"}}, novel["rawChapterData"])
		assert.Equal(t, []any{map[string]any{"title": "Ch 1", "sourceUrl": "/1", "content": "one"}}, novel["chapters"])

		rec, body = f.do(t, http.MethodPost, "/fs/import-books", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Directory path is required.", body["error"])
	})

	t.Run("import unreadable directory", func(t *testing.T) {
		missing := filepath.Join(root, "missing")
		rec, body := f.do(t, http.MethodPost, "/fs/import-books", map[string]string{"booksDirPath": missing})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, body["error"], "Could not read the book directory.")

		// The path is remembered even when the import fails.
		dir, err := storage.GetString(f.store, storage.KeyBooksDirectory)
		require.NoError(t, err)
		assert.Equal(t, missing, dir)
		require.NoError(t, storage.PutString(f.store, storage.KeyBooksDirectory, root))
	})

	t.Run("delete raw chapters", func(t *testing.T) {
		rec, body := f.do(t, http.MethodPost, "/fs/delete-raw-chapters", map[string]string{"bookName": "Novel"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `Raw chapters file for "Novel" deleted.`, body["message"])

		rec, body = f.do(t, http.MethodPost, "/fs/delete-raw-chapters", map[string]string{"bookName": "Novel"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Raw chapters file not found, nothing to delete.", body["message"])
	})

	t.Run("delete book", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodPost, "/fs/delete-book", map[string]string{"bookName": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, body := f.do(t, http.MethodPost, "/fs/delete-book", map[string]string{"bookName": "Novel"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Deleted book folder: Novel", body["message"])
		_, err := os.Stat(filepath.Join(root, "Novel"))
		assert.True(t, os.IsNotExist(err))
	})
}

// TestRouterUpgradesWebSocket verifies upgrades bypass the API middleware.
func TestRouterUpgradesWebSocket(t *testing.T) {
	coord := coordinator.New(coordinator.DefaultConfig(), clockwork.NewFakeClock(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	srv := newServer(coord, storage.NewMemoryStore(), discardLogger(), 1<<20)
	ws := transport.NewServer(coord, transport.Options{Logger: discardLogger()})
	ts := httptest.NewServer(newRouter(srv, ws, testCORS, discardLogger()))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"client-connected"`)

	assert.Eventually(t, func() bool {
		res, err := http.Get(ts.URL + "/status")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		var body struct {
			Connections []coordinator.ConnectionStatus `json:"connections"`
		}
		return json.NewDecoder(res.Body).Decode(&body) == nil && len(body.Connections) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
