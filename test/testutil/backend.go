package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Backend is an in-process REST backend with object storage and table
// upserts, served over httptest.
type Backend struct {
	*httptest.Server

	mu       sync.Mutex
	objects  map[string][]byte
	rows     map[string]map[string]map[string]interface{}
	requests []string

	failStatus int
	failures   int // negative fails every request

	// OnRequest runs before each request is handled.
	OnRequest func(r *http.Request)
}

// NewBackend starts a backend. It is closed when the test ends.
func NewBackend(t interface{ Cleanup(func()) }) *Backend {
	b := &Backend{
		objects: make(map[string][]byte),
		rows:    make(map[string]map[string]map[string]interface{}),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

// Fail makes the next n requests answer with status. A negative n fails
// every request until Fail(0, 0).
func (b *Backend) Fail(n, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
	b.failStatus = status
}

// Object returns an object stored under bucket/path.
func (b *Backend) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// ObjectCount returns the number of stored objects.
func (b *Backend) ObjectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// Row returns the row stored under key in table.
func (b *Backend) Row(table, key string) (map[string]interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.rows[table][key]
	return row, ok
}

// RowCount returns the number of rows in table.
func (b *Backend) RowCount(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows[table])
}

// Requests returns "METHOD path" for every request received.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hook := b.OnRequest
	b.mu.Unlock()
	if hook != nil {
		hook(r)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, r.Method+" "+r.URL.Path)

	if b.failures != 0 {
		if b.failures > 0 {
			b.failures--
		}
		writeError(w, b.failStatus, "injected failure")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/storage/v1/object/"):
		key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
		if _, exists := b.objects[key]; exists && r.Header.Get("x-upsert") != "true" {
			writeError(w, http.StatusConflict, "object exists")
			return
		}
		b.objects[key] = body
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"Key":%q}`, key)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		keyField := r.URL.Query().Get("on_conflict")

		var row map[string]interface{}
		if err := json.Unmarshal(body, &row); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		key, ok := row[keyField]
		if !ok {
			writeError(w, http.StatusBadRequest, "missing conflict key")
			return
		}

		if b.rows[table] == nil {
			b.rows[table] = make(map[string]map[string]interface{})
		}
		existing := b.rows[table][fmt.Sprint(key)]
		if existing == nil {
			existing = make(map[string]interface{})
			b.rows[table][fmt.Sprint(key)] = existing
		}
		for k, v := range row {
			existing[k] = v
		}
		w.WriteHeader(http.StatusCreated)

	default:
		writeError(w, http.StatusNotFound, "no route")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    http.StatusText(status),
		"message": message,
	})
}
