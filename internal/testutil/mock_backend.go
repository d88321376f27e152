// Package testutil provides testing utilities for edgecache.
package testutil

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockBackend is an in-memory blog API with posts and tags. It serves
// collections at /api/v1/{family} and items at /api/v1/{family}/{id}, and
// counts every request it receives.
type MockBackend struct {
	mu        sync.RWMutex
	families  map[string]map[int64]map[string]any
	nextID    int64
	overrides map[string]http.HandlerFunc
	calls     map[string]int
	total     int
	server    *httptest.Server
}

// NewMockBackend creates a backend seeded with posts 1-3 and tags 1-2.
func NewMockBackend() *MockBackend {
	m := &MockBackend{
		families:  map[string]map[int64]map[string]any{"posts": {}, "tags": {}},
		overrides: make(map[string]http.HandlerFunc),
		calls:     make(map[string]int),
	}
	for i := 1; i <= 3; i++ {
		m.add("posts", map[string]any{"title": "Post " + strconv.Itoa(i)})
	}
	for _, name := range []string{"go", "redis"} {
		m.add("tags", map[string]any{"name": name})
	}
	return m
}

// Start serves the backend on a local test server and returns its URL.
func (m *MockBackend) Start() string {
	m.server = httptest.NewServer(m)
	return m.server.URL
}

// Close shuts down the test server started with Start.
func (m *MockBackend) Close() {
	if m.server != nil {
		m.server.Close()
	}
}

// SetHandler replaces the handler for an exact path.
func (m *MockBackend) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[path] = handler
}

// SetResponse makes path answer with a fixed response.
func (m *MockBackend) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = io.WriteString(w, resp.Body)
		}
	})
}

// Calls returns how many requests reached path.
func (m *MockBackend) Calls(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[path]
}

// TotalCalls returns how many requests reached the backend.
func (m *MockBackend) TotalCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Reset clears the call counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
	m.total = 0
}

// ServeHTTP implements http.Handler.
func (m *MockBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.calls[r.URL.Path]++
	m.total++
	override, ok := m.overrides[r.URL.Path]
	m.mu.Unlock()

	if ok {
		override(w, r)
		return
	}

	family, id, ok := route(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}

	switch {
	case id == 0 && r.Method == http.MethodGet:
		m.list(w, family)
	case id == 0 && r.Method == http.MethodPost:
		m.create(w, r, family)
	case id != 0 && r.Method == http.MethodGet:
		m.get(w, family, id)
	case id != 0 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		m.update(w, r, family, id)
	case id != 0 && r.Method == http.MethodDelete:
		m.remove(w, family, id)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed"})
	}
}

// route splits /api/v1/{family}[/{id}].
func route(path string) (string, int64, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return "", 0, false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch len(parts) {
	case 1:
		if parts[0] != "posts" && parts[0] != "tags" {
			return "", 0, false
		}
		return parts[0], 0, true
	case 2:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 || (parts[0] != "posts" && parts[0] != "tags") {
			return "", 0, false
		}
		return parts[0], id, true
	default:
		return "", 0, false
	}
}

func (m *MockBackend) add(family string, item map[string]any) map[string]any {
	m.nextID++
	item["id"] = m.nextID
	m.families[family][m.nextID] = item
	return item
}

func (m *MockBackend) list(w http.ResponseWriter, family string) {
	m.mu.RLock()
	items := make([]map[string]any, 0, len(m.families[family]))
	for _, item := range m.families[family] {
		items = append(items, maps.Clone(item))
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i]["id"].(int64) < items[j]["id"].(int64)
	})
	writeJSON(w, http.StatusOK, items)
}

func (m *MockBackend) get(w http.ResponseWriter, family string, id int64) {
	m.mu.RLock()
	item, ok := m.families[family][id]
	item = maps.Clone(item)
	m.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (m *MockBackend) create(w http.ResponseWriter, r *http.Request, family string) {
	var item map[string]any
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "Invalid body"})
		return
	}
	m.mu.Lock()
	created := maps.Clone(m.add(family, item))
	m.mu.Unlock()
	writeJSON(w, http.StatusCreated, created)
}

func (m *MockBackend) update(w http.ResponseWriter, r *http.Request, family string, id int64) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "Invalid body"})
		return
	}
	m.mu.Lock()
	item, ok := m.families[family][id]
	if ok {
		for k, v := range fields {
			if k != "id" {
				item[k] = v
			}
		}
		item = maps.Clone(item)
	}
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (m *MockBackend) remove(w http.ResponseWriter, family string, id int64) {
	m.mu.Lock()
	_, ok := m.families[family][id]
	delete(m.families[family], id)
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
