package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockRemote provides an in-memory Remote for testing.
type MockRemote struct {
	mu sync.Mutex

	// BaseURL prefixes the URLs returned by PublicURL.
	BaseURL string

	// Stored state
	objects      map[string][]byte
	contentTypes map[string]string
	rows         map[string]map[string]map[string]interface{}

	// Error injection. Each failure budget is consumed one call at a time;
	// a negative budget fails every call.
	uploadErr    error
	uploadFails  int
	upsertErr    error
	upsertFails  int
	publicURLErr error

	// Hooks run before each call is applied.
	OnUpload func(path string)
	OnUpsert func(table string, payload map[string]interface{})

	// Request tracking
	UploadRequests []string
	UpsertRequests []UpsertRequest
}

// UpsertRequest tracks UpsertRecord calls.
type UpsertRequest struct {
	Table    string
	KeyField string
	Payload  map[string]interface{}
}

// NewMockRemote creates a mock remote.
func NewMockRemote() *MockRemote {
	return &MockRemote{
		BaseURL:      "https://remote.test",
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
		rows:         make(map[string]map[string]map[string]interface{}),
	}
}

// FailUploads makes the next n uploads return err.
func (m *MockRemote) FailUploads(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadFails = n
	m.uploadErr = err
}

// FailUpserts makes the next n upserts return err.
func (m *MockRemote) FailUpserts(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertFails = n
	m.upsertErr = err
}

// FailPublicURL makes PublicURL return err until cleared with nil.
func (m *MockRemote) FailPublicURL(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicURLErr = err
}

// UploadBinary mocks object storage.
func (m *MockRemote) UploadBinary(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	hook := m.OnUpload
	m.mu.Unlock()
	if hook != nil {
		hook(path)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.UploadRequests = append(m.UploadRequests, path)

	if m.uploadFails != 0 {
		if m.uploadFails > 0 {
			m.uploadFails--
		}
		return "", m.uploadErr
	}

	m.objects[path] = append([]byte(nil), data...)
	m.contentTypes[path] = contentType
	return path, nil
}

// PublicURL mocks public object addresses.
func (m *MockRemote) PublicURL(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publicURLErr != nil {
		return "", m.publicURLErr
	}
	if path == "" {
		return "", fmt.Errorf("public url: path is required")
	}
	return m.BaseURL + "/" + path, nil
}

// UpsertRecord mocks table upserts. Rows are merged on the key, so replays
// leave a single row.
func (m *MockRemote) UpsertRecord(ctx context.Context, table, keyField string, payload map[string]interface{}) error {
	m.mu.Lock()
	hook := m.OnUpsert
	m.mu.Unlock()
	if hook != nil {
		hook(table, payload)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkUpsert(table, keyField, payload); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	m.UpsertRequests = append(m.UpsertRequests, UpsertRequest{Table: table, KeyField: keyField, Payload: copied})

	if m.upsertFails != 0 {
		if m.upsertFails > 0 {
			m.upsertFails--
		}
		return m.upsertErr
	}

	tableRows, ok := m.rows[table]
	if !ok {
		tableRows = make(map[string]map[string]interface{})
		m.rows[table] = tableRows
	}

	key := fmt.Sprint(payload[keyField])
	row, ok := tableRows[key]
	if !ok {
		row = make(map[string]interface{})
		tableRows[key] = row
	}
	for k, v := range copied {
		row[k] = v
	}
	return nil
}

// Object returns a stored object and its content type.
func (m *MockRemote) Object(path string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	return data, m.contentTypes[path], ok
}

// ObjectPaths lists stored objects in order.
func (m *MockRemote) ObjectPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Row returns the row stored under key in table.
func (m *MockRemote) Row(table, key string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[table][key]
	if !ok {
		return nil, false
	}
	copied := make(map[string]interface{}, len(row))
	for k, v := range row {
		copied[k] = v
	}
	return copied, true
}

// RowCount returns the number of rows in table.
func (m *MockRemote) RowCount(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[table])
}

// UploadCount returns the number of upload calls made.
func (m *MockRemote) UploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UploadRequests)
}

// UpsertCount returns the number of upsert calls made.
func (m *MockRemote) UpsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UpsertRequests)
}
