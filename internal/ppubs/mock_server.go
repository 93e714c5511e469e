// SPDX-License-Identifier: MIT
package ppubs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockServer is a configurable stand-in for the upstream service. It speaks
// the real wire contract (session handshake, search, print pipeline) and
// supports failure, rate-limit and poll-script injection for tests.
type MockServer struct {
	*httptest.Server
	mu sync.Mutex

	token        string
	caseID       int
	numericCase  bool // emit caseId as a JSON number instead of a string
	rejectAuth   bool // refuse every authenticated call with 403

	failures   map[string]int // remaining 500s per path
	rateLimits map[string]rateLimitRule

	searchResult *SearchResult
	searchError  *upstreamFailure
	docs         map[string]json.RawMessage

	nextJob     int
	pollScripts map[string][]PollStatus
	pollCursor  map[string]int
	artifacts   map[string][]byte

	bootstrapCalls int
	sessionCalls   int
	countsCalls    int
	searchCalls    int
	documentCalls  int
	submitCalls    int
	pollCalls      int
	fetchCalls     int
}

type rateLimitRule struct {
	remaining int
	seconds   int
}

// NewMockServer starts a mock upstream with realistic default data.
func NewMockServer() *MockServer {
	m := &MockServer{
		token:       "tok-1",
		caseID:      5830,
		failures:    make(map[string]int),
		rateLimits:  make(map[string]rateLimitRule),
		docs:        make(map[string]json.RawMessage),
		pollScripts: make(map[string][]PollStatus),
		pollCursor:  make(map[string]int),
		artifacts:   make(map[string][]byte),
	}
	m.SetDefaultData()

	mux := http.NewServeMux()
	mux.HandleFunc(bootstrapPath, m.handleBootstrap)
	mux.HandleFunc(sessionPath, m.handleSession)
	mux.HandleFunc(countsPath, m.handleCounts)
	mux.HandleFunc(searchPath, m.handleSearch)
	mux.HandleFunc("/api/patents/highlight/", m.handleDocument)
	mux.HandleFunc(printSubmitPath, m.handleSubmit)
	mux.HandleFunc(printPollPath, m.handlePoll)
	mux.HandleFunc(printFetchPath, m.handleFetch)

	m.Server = httptest.NewServer(mux)
	return m
}

// SetDefaultData installs one searchable document with a completed-on-first-
// poll print script.
func (m *MockServer) SetDefaultData() {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := PatentDoc{
		GUID:          "US-12345678-B2",
		Type:          SourceGrantedPatents,
		PatentNumber:  "12345678",
		Title:         "Adaptive widget calibration",
		DatePublished: "2024-03-12",
		ImageLocation: "US12345678",
		PageCount:     4,
	}
	m.searchResult = &SearchResult{NumFound: 1, Docs: []PatentDoc{doc}}
	m.searchError = nil
	raw, _ := json.Marshal(map[string]any{
		"guid":            doc.GUID,
		"inventionTitle":  doc.Title,
		"patentNumber":    doc.PatentNumber,
		"imageLocation":   doc.ImageLocation,
		"pageCount":       doc.PageCount,
		"sections":        []string{"abstract", "claims"},
	})
	m.docs = map[string]json.RawMessage{doc.GUID: raw}
}

// ExpireSession invalidates every previously issued token. The next session
// POST issues a fresh one.
func (m *MockServer) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = fmt.Sprintf("tok-%d", m.sessionCalls+1)
}

// RejectAuth makes every authenticated endpoint answer 403, refreshed session
// or not.
func (m *MockServer) RejectAuth(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectAuth = reject
}

// SetNumericCaseID makes the session body carry caseId as a JSON number.
func (m *MockServer) SetNumericCaseID(numeric bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numericCase = numeric
}

// SetFailures makes the next count requests to path answer 500.
func (m *MockServer) SetFailures(path string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = count
}

// SetRateLimit makes the next count requests to path answer 429 with the
// given wait hint in seconds (0 omits the header).
func (m *MockServer) SetRateLimit(path string, count, seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimits[path] = rateLimitRule{remaining: count, seconds: seconds}
}

// SetSearchResult replaces the canned search response.
func (m *MockServer) SetSearchResult(result SearchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchResult = &result
}

// SetSearchError makes the search endpoint answer 200 with an embedded error
// object, the upstream's way of rejecting a query.
func (m *MockServer) SetSearchError(code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchError = &upstreamFailure{}
	m.searchError.Error = &struct {
		ErrorMessage string `json:"errorMessage"`
		ErrorCode    string `json:"errorCode"`
	}{ErrorMessage: message, ErrorCode: code}
}

// SetPollScript fixes the status sequence for a job; the last entry repeats
// once the script is exhausted.
func (m *MockServer) SetPollScript(jobID string, statuses ...PollStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollScripts[jobID] = statuses
	m.pollCursor[jobID] = 0
}

// SetArtifact installs artifact bytes for a name.
func (m *MockServer) SetArtifact(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[name] = data
}

// NextJobID reports the ID the next submitted job will get, so tests can
// script its polls up front.
func (m *MockServer) NextJobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("job-%d", m.nextJob+1)
}

func (m *MockServer) SessionCalls() int   { m.mu.Lock(); defer m.mu.Unlock(); return m.sessionCalls }
func (m *MockServer) BootstrapCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.bootstrapCalls }
func (m *MockServer) CountsCalls() int    { m.mu.Lock(); defer m.mu.Unlock(); return m.countsCalls }
func (m *MockServer) SearchCalls() int    { m.mu.Lock(); defer m.mu.Unlock(); return m.searchCalls }
func (m *MockServer) SubmitCalls() int    { m.mu.Lock(); defer m.mu.Unlock(); return m.submitCalls }
func (m *MockServer) PollCalls() int      { m.mu.Lock(); defer m.mu.Unlock(); return m.pollCalls }
func (m *MockServer) FetchCalls() int     { m.mu.Lock(); defer m.mu.Unlock(); return m.fetchCalls }

// intercept applies injected failures and rate limits. It reports true when
// it already wrote a response. Callers hold the lock.
func (m *MockServer) intercept(w http.ResponseWriter, path string) bool {
	if rule, ok := m.rateLimits[path]; ok && rule.remaining > 0 {
		rule.remaining--
		m.rateLimits[path] = rule
		if rule.seconds > 0 {
			w.Header().Set(rateLimitHeader, strconv.Itoa(rule.seconds))
		}
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return true
	}
	if m.failures[path] > 0 {
		m.failures[path]--
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return true
	}
	return false
}

// authorized verifies the access token. Callers hold the lock.
func (m *MockServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if m.rejectAuth || r.Header.Get(accessTokenHeader) != m.token {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (m *MockServer) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootstrapCalls++
	if m.intercept(w, bootstrapPath) {
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "mock"})
	w.WriteHeader(http.StatusOK)
}

func (m *MockServer) handleSession(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCalls++
	if m.intercept(w, sessionPath) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	m.token = fmt.Sprintf("tok-%d", m.sessionCalls)
	w.Header().Set(accessTokenHeader, m.token)
	w.Header().Set("Content-Type", "application/json")

	caseID := strconv.Itoa(m.caseID)
	if m.numericCase {
		fmt.Fprintf(w, `{"userCase":{"caseId":%d}}`, m.caseID)
		return
	}
	fmt.Fprintf(w, `{"userCase":{"caseId":%q}}`, caseID)
}

func (m *MockServer) handleCounts(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countsCalls++
	if m.intercept(w, countsPath) || !m.authorized(w, r) {
		return
	}

	var q searchQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.Q == "" || q.CaseID == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"numFound":%d}`, m.searchResult.NumFound)
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if m.intercept(w, searchPath) || !m.authorized(w, r) {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query.Q == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if m.searchError != nil {
		json.NewEncoder(w).Encode(m.searchError) //nolint:errcheck
		return
	}
	json.NewEncoder(w).Encode(m.searchResult) //nolint:errcheck
}

func (m *MockServer) handleDocument(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentCalls++
	guid := strings.TrimPrefix(r.URL.Path, "/api/patents/highlight/")
	if m.intercept(w, "/api/patents/highlight/"+guid) || !m.authorized(w, r) {
		return
	}

	doc, ok := m.docs[guid]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc) //nolint:errcheck
}

func (m *MockServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	if m.intercept(w, printSubmitPath) || !m.authorized(w, r) {
		return
	}

	var req printSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PatentGUID == "" || len(req.PageKeys) == 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	m.nextJob++
	id := fmt.Sprintf("job-%d", m.nextJob)
	if _, scripted := m.pollScripts[id]; !scripted {
		artifact := id + ".pdf"
		m.pollScripts[id] = []PollStatus{{Status: pollStatusCompleted, ArtifactName: artifact}}
		m.artifacts[artifact] = []byte("%PDF-1.7 mock " + req.PatentGUID)
	}
	fmt.Fprint(w, id)
}

func (m *MockServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollCalls++
	if m.intercept(w, printPollPath) || !m.authorized(w, r) {
		return
	}

	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil || len(ids) == 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	statuses := make([]PollStatus, 0, len(ids))
	for _, id := range ids {
		script, ok := m.pollScripts[id]
		if !ok || len(script) == 0 {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		cursor := m.pollCursor[id]
		if cursor >= len(script) {
			cursor = len(script) - 1
		}
		statuses = append(statuses, script[cursor])
		m.pollCursor[id] = cursor + 1
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses) //nolint:errcheck
}

func (m *MockServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	name := strings.TrimPrefix(r.URL.Path, printFetchPath)
	if m.intercept(w, printFetchPath+name) || !m.authorized(w, r) {
		return
	}

	data, ok := m.artifacts[name]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(data) //nolint:errcheck
}
