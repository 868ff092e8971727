// Package mockfoundry implements a minimal "Foundry-like" dataset and
// stream-proxy API surface for integration tests and local smoke runs.
package mockfoundry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records a file upload into a dataset transaction.
type Upload struct {
	DatasetRID string
	TxnID      string
	FilePath   string
	Bytes      []byte
}

// Server serves the endpoints the module's client calls: branch lookup,
// readTable, schema, transactions, file upload, commit, and the
// stream-proxy probe/publish pair.
type Server struct {
	inputDir  string
	uploadDir string

	mu      sync.Mutex
	calls   []Call
	uploads []Upload

	expectedAuthorization string

	nextTxn int
	txns    map[string]txnState

	// heads stores the last committed dataset contents per dataset RID.
	// This allows read-after-write flows via the same readTable endpoint.
	heads map[string][]byte

	// streams holds published records per stream RID, for RIDs enabled as
	// streams via EnableStream.
	streams map[string][]map[string]any
}

type txnState struct {
	datasetRID string
	branch     string
	committed  bool

	// files are staged uploads for the transaction keyed by file path.
	files map[string][]byte
}

// New constructs a new mock server. Input datasets are served from
// {inputDir}/{rid}.csv; declared schemas, when present, from
// {inputDir}/{rid}.schema.json.
func New(inputDir, uploadDir string) *Server {
	return &Server{
		inputDir:  inputDir,
		uploadDir: uploadDir,
		nextTxn:   1,
		txns:      make(map[string]txnState),
		heads:     make(map[string][]byte),
		streams:   make(map[string][]map[string]any),
	}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// EnableStream marks the RID as stream-accessible; the stream-proxy probe
// then answers 2xx and published records are retained in memory.
func (s *Server) EnableStream(streamRID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[streamRID]; !ok {
		s.streams[streamRID] = nil
	}
}

// StreamRecords returns a snapshot of the records published to a stream.
func (s *Server) StreamRecords(streamRID string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.streams[streamRID]))
	copy(out, s.streams[streamRID])
	return out
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/datasets/", s.handleV2Datasets)
	mux.HandleFunc("/stream-proxy/api/streams/", s.handleStreams)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Uploads returns a snapshot of uploads made to the server.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleV2Datasets(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	// /api/v2/datasets/{rid}/branches/{branch}
	// /api/v2/datasets/{rid}/readTable
	// /api/v2/datasets/{rid}/schema
	// /api/v2/datasets/{rid}/transactions[/{txn}/commit]
	// /api/v2/datasets/{rid}/files/{path}/upload
	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/datasets/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	rid, err := url.PathUnescape(parts[0])
	if err != nil || !isSafeToken(rid) {
		http.Error(w, "invalid dataset rid", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 3 && parts[1] == "branches":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.serveBranch(w, rid, parts[2])
	case len(parts) == 2 && parts[1] == "readTable":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.serveReadTableCSV(w, rid)
	case len(parts) == 2 && parts[1] == "schema":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.serveSchema(w, rid)
	case len(parts) == 2 && parts[1] == "transactions":
		switch r.Method {
		case http.MethodPost:
			s.handleCreateTransaction(w, r, rid)
		case http.MethodGet:
			s.serveListTransactions(w, rid)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "transactions" && parts[3] == "commit":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !isSafeToken(parts[2]) {
			http.Error(w, "invalid transaction id", http.StatusBadRequest)
			return
		}
		s.handleCommit(w, rid, parts[2])
	case len(parts) >= 4 && parts[1] == "files" && parts[len(parts)-1] == "upload":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		filePath, err := url.PathUnescape(strings.Join(parts[2:len(parts)-1], "/"))
		if err != nil || !isSafeFilePath(filePath) {
			http.Error(w, "invalid file path", http.StatusBadRequest)
			return
		}
		txnID := strings.TrimSpace(r.URL.Query().Get("transactionRid"))
		if !isSafeToken(txnID) {
			http.Error(w, "invalid transaction id", http.StatusBadRequest)
			return
		}
		s.handleUpload(w, r, rid, txnID, filePath)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	// /stream-proxy/api/streams/{rid}/branches/{branch}/records
	// /stream-proxy/api/streams/{rid}/branches/{branch}/jsonRecord
	rest := strings.TrimPrefix(r.URL.Path, "/stream-proxy/api/streams/")
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[1] != "branches" {
		http.NotFound(w, r)
		return
	}
	rid, err := url.PathUnescape(parts[0])
	if err != nil || !isSafeToken(rid) {
		http.Error(w, "invalid stream rid", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	records, isStream := s.streams[rid]
	s.mu.Unlock()
	if !isStream {
		http.NotFound(w, r)
		return
	}

	switch parts[3] {
	case "records":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"records": records})
	case "jsonRecord":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		var rec map[string]any
		if err := json.Unmarshal(b, &rec); err != nil {
			http.Error(w, "parse json record", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.streams[rid] = append(s.streams[rid], rec)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveBranch(w http.ResponseWriter, datasetRID, branch string) {
	if !isSafeToken(branch) {
		http.Error(w, "invalid branch", http.StatusBadRequest)
		return
	}
	// A stable synthetic transaction RID is enough for read pinning.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":           branch,
		"transactionRid": "txn-head-" + datasetRID,
	})
}

func (s *Server) serveReadTableCSV(w http.ResponseWriter, datasetRID string) {
	// Prefer the last committed dataset head (read-after-write), if present.
	s.mu.Lock()
	head, ok := s.heads[datasetRID]
	s.mu.Unlock()
	if ok && len(head) > 0 {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(head)
		return
	}

	// If the server restarted, allow the committed head to be reloaded from disk.
	committedPath := s.committedTablePath(datasetRID)
	if b, err := os.ReadFile(committedPath); err == nil && len(b) > 0 {
		s.mu.Lock()
		s.heads[datasetRID] = b
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(b)
		return
	}

	p := filepath.Join(s.inputDir, datasetRID+".csv")
	b, err := os.ReadFile(p)
	if err != nil {
		http.Error(w, fmt.Sprintf("read input csv: %v", err), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(b)
}

func (s *Server) serveSchema(w http.ResponseWriter, datasetRID string) {
	p := filepath.Join(s.inputDir, datasetRID+".schema.json")
	b, err := os.ReadFile(p)
	if err != nil {
		// No declared schema: the dataset's schema is dynamic.
		http.Error(w, "no schema", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (s *Server) serveListTransactions(w http.ResponseWriter, datasetRID string) {
	s.mu.Lock()
	var data []map[string]string
	for id, txn := range s.txns {
		if txn.datasetRID != datasetRID {
			continue
		}
		status := "COMMITTED"
		if !txn.committed {
			status = "OPEN"
		}
		data = append(data, map[string]string{"rid": id, "status": status})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request, datasetRID string) {
	branch := strings.TrimSpace(r.URL.Query().Get("branchName"))

	s.mu.Lock()
	for _, txn := range s.txns {
		if txn.datasetRID == datasetRID && !txn.committed {
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"errorCode":"CONFLICT","errorName":"OpenTransactionAlreadyExists","errorInstanceId":"mock"}`))
			return
		}
	}
	txnID := fmt.Sprintf("txn-%06d", s.nextTxn)
	s.nextTxn++
	s.txns[txnID] = txnState{
		datasetRID: datasetRID,
		branch:     branch,
		files:      make(map[string][]byte),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"rid": txnID})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, datasetRID, txnID, filePath string) {
	s.mu.Lock()
	txn, ok := s.txns[txnID]
	s.mu.Unlock()
	if !ok || txn.datasetRID != datasetRID {
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	if txn.committed {
		http.Error(w, "transaction already committed", http.StatusConflict)
		return
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	dst := filepath.Join(s.uploadDir, datasetRID, txnID, filepath.FromSlash(filePath))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		http.Error(w, "mkdir upload dir", http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(dst, b, 0644); err != nil {
		http.Error(w, "write upload", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	// Re-check state to avoid accepting uploads after commit in racy scenarios.
	txn, ok = s.txns[txnID]
	if !ok || txn.datasetRID != datasetRID {
		s.mu.Unlock()
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	if txn.committed {
		s.mu.Unlock()
		http.Error(w, "transaction already committed", http.StatusConflict)
		return
	}
	if txn.files == nil {
		txn.files = make(map[string][]byte)
	}
	txn.files[filePath] = b
	s.txns[txnID] = txn

	s.uploads = append(s.uploads, Upload{
		DatasetRID: datasetRID,
		TxnID:      txnID,
		FilePath:   filePath,
		Bytes:      b,
	})
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCommit(w http.ResponseWriter, datasetRID string, txnID string) {
	s.mu.Lock()
	txn, ok := s.txns[txnID]
	if !ok || txn.datasetRID != datasetRID {
		s.mu.Unlock()
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	if txn.committed {
		s.mu.Unlock()
		http.Error(w, "transaction already committed", http.StatusConflict)
		return
	}
	if len(txn.files) != 1 {
		s.mu.Unlock()
		http.Error(w, "transaction must have exactly one uploaded file", http.StatusBadRequest)
		return
	}

	var head []byte
	for _, b := range txn.files {
		head = append([]byte(nil), b...)
		break
	}
	s.mu.Unlock()

	// Persist a "dataset head" so downstream consumers can read the committed state via readTable.
	committedPath := s.committedTablePath(datasetRID)
	if err := os.MkdirAll(filepath.Dir(committedPath), 0755); err != nil {
		http.Error(w, "mkdir committed dir", http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(committedPath, head, 0644); err != nil {
		http.Error(w, "write committed head", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	// Re-check state after filesystem writes.
	txn, ok = s.txns[txnID]
	if !ok || txn.datasetRID != datasetRID {
		s.mu.Unlock()
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	if txn.committed {
		s.mu.Unlock()
		http.Error(w, "transaction already committed", http.StatusConflict)
		return
	}
	txn.committed = true
	s.txns[txnID] = txn
	s.heads[datasetRID] = head
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"committed"}`))
}

func (s *Server) committedTablePath(datasetRID string) string {
	// Keep this stable and human-inspectable for local harness use.
	return filepath.Join(s.uploadDir, datasetRID, "_committed", "readTable.csv")
}

func isSafeToken(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

func isSafeFilePath(p string) bool {
	if p == "" {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
