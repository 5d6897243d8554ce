// Package testutil provides testing utilities for the chainfetch engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mock provider response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockProvider is a configurable etherscan-style mock server. By
// default it simulates an account with one transaction per block over
// [0, HeadBlock], truncating every list response at ResultCap, which is
// exactly the silent-truncation behavior the range splitter exists for.
type MockProvider struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// HeadBlock is the simulated chain head.
	HeadBlock int64

	// ResultCap truncates every list response.
	ResultCap int

	// Tracking
	RequestCount      int
	LastRequestParams map[string]string
}

// NewMockProvider creates a mock provider server.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		handlers:  make(map[string]func(w http.ResponseWriter, r *http.Request)),
		HeadBlock: 1000,
		ResultCap: 10_000,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")

		mock.mu.Lock()
		mock.RequestCount++
		params := make(map[string]string)
		for k := range r.URL.Query() {
			params[k] = r.URL.Query().Get(k)
		}
		mock.LastRequestParams = params
		handler, exists := mock.handlers[action]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Reset clears the tracking counters.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestParams = nil
}

// SetHandler sets a custom handler for a provider action.
func (m *MockProvider) SetHandler(action string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[action] = handler
}

// SetResponse configures a fixed response for a provider action.
func (m *MockProvider) SetResponse(action string, resp MockResponse) {
	m.SetHandler(action, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockProvider) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler serves the simulated transaction list and chain head.
func (m *MockProvider) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	query := r.URL.Query()
	switch query.Get("action") {
	case "eth_blockNumber":
		m.mu.RLock()
		head := m.HeadBlock
		m.mu.RUnlock()
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":"0x%x"}`, head)

	case "txlist", "tokentx":
		start, _ := strconv.ParseInt(query.Get("startblock"), 10, 64)
		end, _ := strconv.ParseInt(query.Get("endblock"), 10, 64)
		m.writeTxList(w, start, end, query.Get("offset"), query.Get("page"))

	default:
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"0","message":"NOTOK - invalid action","result":[]}`)
	}
}

// writeTxList emits one transaction per block in [start, end], applying
// page/offset slicing when present and the global result cap always.
func (m *MockProvider) writeTxList(w http.ResponseWriter, start, end int64, offsetStr, pageStr string) {
	m.mu.RLock()
	head := m.HeadBlock
	cap := m.ResultCap
	m.mu.RUnlock()

	if end > head {
		end = head
	}
	if end < start {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
		return
	}

	type tx struct {
		Hash        string `json:"hash"`
		BlockNumber string `json:"blockNumber"`
		TxIndex     string `json:"transactionIndex"`
	}

	var txs []tx
	for b := start; b <= end; b++ {
		txs = append(txs, tx{
			Hash:        fmt.Sprintf("0xtx%d", b),
			BlockNumber: strconv.FormatInt(b, 10),
			TxIndex:     "0",
		})
	}

	// Page slicing for paged/sliding clients.
	if offsetStr != "" {
		offset, _ := strconv.Atoi(offsetStr)
		page, _ := strconv.Atoi(pageStr)
		if page <= 0 {
			page = 1
		}
		if offset > 0 {
			lo := (page - 1) * offset
			if lo >= len(txs) {
				txs = nil
			} else {
				hi := lo + offset
				if hi > len(txs) {
					hi = len(txs)
				}
				txs = txs[lo:hi]
			}
		}
	}

	if cap > 0 && len(txs) > cap {
		txs = txs[:cap]
	}

	if len(txs) == 0 {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
		return
	}

	result, _ := json.Marshal(txs)
	fmt.Fprintf(w, `{"status":"1","message":"OK","result":%s}`, result)
}
