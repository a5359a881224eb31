package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// hiddenAppID is the placeholder record SteamSpy serves for apps the
// publisher has hidden.
const hiddenAppID = 999999

// MockCatalogServer simulates the SteamSpy API: a paged "all" listing
// plus a per-app "appdetails" endpoint, with configurable failures and
// per-endpoint request counters.
type MockCatalogServer struct {
	server *httptest.Server

	mu       sync.Mutex
	pages    [][]int
	hidden   map[int]bool
	failures map[string]*failurePlan
	requests map[string]int
	delay    time.Duration
}

// failurePlan makes an endpoint fail with code until remaining hits
// zero. A negative remaining fails forever.
type failurePlan struct {
	code      int
	remaining int
}

// NewMockCatalogServer creates a server whose catalog consists of the
// given appid pages. Any page past the configured ones is empty.
func NewMockCatalogServer(pages [][]int) *MockCatalogServer {
	m := &MockCatalogServer{
		pages:    pages,
		hidden:   make(map[int]bool),
		failures: make(map[string]*failurePlan),
		requests: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the base URL of the mock API.
func (m *MockCatalogServer) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MockCatalogServer) Close() {
	m.server.Close()
}

// HideApp makes appdetails for the given appid return the hidden-app
// placeholder record.
func (m *MockCatalogServer) HideApp(appid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[appid] = true
}

// FailPage makes the given listing page fail with code for the next n
// requests. A negative n fails forever.
func (m *MockCatalogServer) FailPage(page, code, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[pageKey(page)] = &failurePlan{code: code, remaining: n}
}

// FailApp makes appdetails for appid fail with code for the next n
// requests. A negative n fails forever.
func (m *MockCatalogServer) FailApp(appid, code, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[appKey(appid)] = &failurePlan{code: code, remaining: n}
}

// SetDelay adds a fixed delay to every response.
func (m *MockCatalogServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// PageRequests returns how many times the given listing page was hit.
func (m *MockCatalogServer) PageRequests(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[pageKey(page)]
}

// AppRequests returns how many times appdetails for appid was hit.
func (m *MockCatalogServer) AppRequests(appid int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[appKey(appid)]
}

// DetailRequests returns how many appdetails requests were made in total.
func (m *MockCatalogServer) DetailRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, page := range m.pages {
		for _, appid := range page {
			total += m.requests[appKey(appid)]
		}
	}
	return total
}

func (m *MockCatalogServer) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("request") {
	case "all":
		m.handleListing(w, r)
	case "appdetails":
		m.handleDetails(w, r)
	default:
		http.Error(w, "unknown request", http.StatusBadRequest)
	}
}

func (m *MockCatalogServer) handleListing(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil {
		http.Error(w, "bad page", http.StatusBadRequest)
		return
	}

	if code, delay := m.track(pageKey(page)); code > 0 {
		http.Error(w, "simulated failure", code)
		return
	} else if delay > 0 {
		time.Sleep(delay)
	}

	if page < 0 || page >= len(m.pages) {
		fmt.Fprint(w, "{}")
		return
	}

	// Build the object by hand so key order matches the page order.
	out := "{"
	for i, appid := range m.pages[page] {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf(`"%d": {"appid": %d, "name": "app %d"}`, appid, appid, appid)
	}
	out += "}"
	fmt.Fprint(w, out)
}

func (m *MockCatalogServer) handleDetails(w http.ResponseWriter, r *http.Request) {
	appid, err := strconv.Atoi(r.URL.Query().Get("appid"))
	if err != nil {
		http.Error(w, "bad appid", http.StatusBadRequest)
		return
	}

	if code, delay := m.track(appKey(appid)); code > 0 {
		http.Error(w, "simulated failure", code)
		return
	} else if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	isHidden := m.hidden[appid]
	m.mu.Unlock()

	if isHidden {
		appid = hiddenAppID
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appid":     appid,
		"name":      fmt.Sprintf("app %d", appid),
		"developer": "Test Dev",
		"publisher": "Test Pub",
		"owners":    "1,000,000 .. 2,000,000",
	})
}

// track counts the request and reports a pending failure code, if any,
// and the configured response delay.
func (m *MockCatalogServer) track(key string) (int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[key]++

	if plan, ok := m.failures[key]; ok && plan.remaining != 0 {
		if plan.remaining > 0 {
			plan.remaining--
		}
		return plan.code, 0
	}
	return 0, m.delay
}

func pageKey(page int) string { return "page:" + strconv.Itoa(page) }
func appKey(appid int) string { return "app:" + strconv.Itoa(appid) }
