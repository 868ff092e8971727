package foundry

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the dataset and stream-proxy endpoints
// used by this module.
//
// Note: This is intentionally minimal to support local harness + smoke tests.
type Client struct {
	apiBaseURL    *url.URL
	streamBaseURL *url.URL
	token         string
	http          *http.Client
}

// NewClient constructs a client for Foundry service base URLs.
//
// apiGatewayURL should look like "https://<stack>.palantirfoundry.com/api".
// streamProxyURL should look like "https://<stack>.palantirfoundry.com/stream-proxy/api".
//
// defaultCAPath is optional and, when provided, will be used as the trust store for TLS.
func NewClient(apiGatewayURL, streamProxyURL, token, defaultCAPath string) (*Client, error) {
	apiBase, err := parseBaseURL(apiGatewayURL, "api gateway")
	if err != nil {
		return nil, err
	}
	streamBase, err := parseBaseURL(streamProxyURL, "stream-proxy")
	if err != nil {
		return nil, err
	}

	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		apiBaseURL:    apiBase,
		streamBaseURL: streamBase,
		token:         strings.TrimSpace(token),
		http:          hc,
	}, nil
}

func parseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// response is the outcome of one API call, before 2xx enforcement.
type response struct {
	status int
	body   []byte
	http   *http.Response
}

func (r response) ok() bool {
	return r.status/100 == 2
}

func (c *Client) request(ctx context.Context, method string, u *url.URL, contentType string, accept string, body []byte) (response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	return response{status: resp.StatusCode, body: b, http: resp}, nil
}

func defaultBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		// Foundry examples typically default branches to master when omitted.
		return "master"
	}
	return branch
}

type branchResponse struct {
	Name           string `json:"name"`
	BranchID       string `json:"branchId"`
	TransactionRID string `json:"transactionRid"`
}

// GetBranchTransactionRID returns the most recent OPEN or COMMITTED transaction on the branch.
// This value can be used to pin a readTable request to a deterministic snapshot.
func (c *Client) GetBranchTransactionRID(ctx context.Context, datasetRID, branch string) (string, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return "", fmt.Errorf("dataset rid is required")
	}
	branch = defaultBranch(branch)

	u := c.resolveAPI(fmt.Sprintf(
		"v2/datasets/%s/branches/%s",
		url.PathEscape(datasetRID),
		url.PathEscape(branch),
	))
	resp, err := c.request(ctx, http.MethodGet, u, "", "application/json", nil)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", newHTTPError("getBranch", resp.http, resp.body)
	}

	var out branchResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("parse get branch response: %w", err)
	}
	return strings.TrimSpace(out.TransactionRID), nil
}

// ReadTableCSV reads the dataset as CSV bytes from the readTable endpoint.
func (c *Client) ReadTableCSV(ctx context.Context, datasetRID, branch string) ([]byte, error) {
	branch = defaultBranch(branch)

	// Pin to the most recent transaction for deterministic reads. Some stacks
	// reject readTable without explicit transaction bounds.
	txnRID, err := c.GetBranchTransactionRID(ctx, datasetRID, branch)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	// Dataset API v2 uses branchName; branchId is accepted by some older APIs.
	q.Set("branchName", branch)
	if strings.TrimSpace(txnRID) != "" {
		q.Set("startTransactionRid", txnRID)
		q.Set("endTransactionRid", txnRID)
	}
	q.Set("format", "CSV")

	u := c.resolveAPI(fmt.Sprintf("v2/datasets/%s/readTable", url.PathEscape(datasetRID)))
	u.RawQuery = q.Encode()

	resp, err := c.request(ctx, http.MethodGet, u, "", "text/csv", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, newHTTPError("readTable", resp.http, resp.body)
	}
	return resp.body, nil
}

// GetSchemaJSON fetches the dataset schema document for a branch.
//
// Returns:
//   - (json, true, nil) when the dataset has a committed schema
//   - (nil, false, nil) when the endpoint responds 404 (schema not known
//     until runtime; static validation must be skipped)
//   - (nil, false, err) for other failures
func (c *Client) GetSchemaJSON(ctx context.Context, datasetRID, branch string) ([]byte, bool, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return nil, false, fmt.Errorf("dataset rid is required")
	}
	branch = defaultBranch(branch)

	q := url.Values{}
	q.Set("branchName", branch)
	u := c.resolveAPI(fmt.Sprintf("v2/datasets/%s/schema", url.PathEscape(datasetRID)))
	u.RawQuery = q.Encode()

	resp, err := c.request(ctx, http.MethodGet, u, "", "application/json", nil)
	if err != nil {
		return nil, false, err
	}
	if resp.status == http.StatusNotFound {
		return nil, false, nil
	}
	if !resp.ok() {
		return nil, false, newHTTPError("getSchema", resp.http, resp.body)
	}
	return resp.body, true, nil
}

// ProbeStream checks whether the given RID is accessible as a stream via the stream-proxy API.
//
// Returns:
//   - (true, nil) if stream-proxy responds 2xx
//   - (false, nil) if stream-proxy responds 404 (not a stream / not found)
//   - (false, err) for other non-2xx responses or network errors
func (c *Client) ProbeStream(ctx context.Context, streamRID, branch string) (bool, error) {
	streamRID = strings.TrimSpace(streamRID)
	if streamRID == "" {
		return false, fmt.Errorf("stream rid is required")
	}
	branch = defaultBranch(branch)

	u := c.resolveStream(fmt.Sprintf(
		"streams/%s/branches/%s/records",
		url.PathEscape(streamRID),
		url.PathEscape(branch),
	))
	resp, err := c.request(ctx, http.MethodGet, u, "", "application/json", nil)
	if err != nil {
		return false, err
	}
	if resp.status == http.StatusNotFound {
		return false, nil
	}
	if !resp.ok() {
		return false, newHTTPError("probeStream", resp.http, resp.body)
	}
	return true, nil
}

// PublishStreamJSONRecord publishes one JSON object to stream-proxy.
func (c *Client) PublishStreamJSONRecord(ctx context.Context, streamRID, branch string, record map[string]any) error {
	streamRID = strings.TrimSpace(streamRID)
	if streamRID == "" {
		return fmt.Errorf("stream rid is required")
	}
	branch = defaultBranch(branch)

	b, err := json.Marshal(record)
	if err != nil {
		return err
	}

	u := c.resolveStream(fmt.Sprintf(
		"streams/%s/branches/%s/jsonRecord",
		url.PathEscape(streamRID),
		url.PathEscape(branch),
	))
	resp, err := c.request(ctx, http.MethodPost, u, "application/json", "application/json", b)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return newHTTPError("publishStreamJSONRecord", resp.http, resp.body)
	}
	return nil
}

type createTxnRequest struct {
	TransactionType string `json:"transactionType"`
}

type createTxnResponse struct {
	// Foundry returns a Transaction object with a transaction RID.
	RID string `json:"rid"`

	// Legacy: some mocks may return transactionId.
	TransactionID string `json:"transactionId"`
}

// CreateTransaction creates a dataset transaction and returns the transaction id.
func (c *Client) CreateTransaction(ctx context.Context, datasetRID, branch string) (string, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return "", fmt.Errorf("dataset rid is required")
	}
	branch = defaultBranch(branch)

	b, err := json.Marshal(createTxnRequest{TransactionType: "SNAPSHOT"})
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("branchName", branch)
	u := c.resolveAPI(fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)))
	u.RawQuery = q.Encode()

	resp, err := c.request(ctx, http.MethodPost, u, "application/json", "application/json", b)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", newHTTPError("createTransaction", resp.http, resp.body)
	}

	var out createTxnResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("parse create transaction response: %w", err)
	}
	txn := strings.TrimSpace(out.RID)
	if txn == "" {
		txn = strings.TrimSpace(out.TransactionID)
	}
	if txn == "" {
		return "", fmt.Errorf("create transaction response missing transaction rid")
	}
	return txn, nil
}

// Transaction is one entry from the listTransactions preview endpoint.
type Transaction struct {
	RID    string `json:"rid"`
	Status string `json:"status"`
}

type listTxnResponse struct {
	Data          []Transaction `json:"data"`
	NextPageToken string        `json:"nextPageToken"`
}

// ListTransactions lists dataset transactions (preview endpoint), newest first.
func (c *Client) ListTransactions(ctx context.Context, datasetRID string, pageSize int, pageToken string) ([]Transaction, string, error) {
	datasetRID = strings.TrimSpace(datasetRID)
	if datasetRID == "" {
		return nil, "", fmt.Errorf("dataset rid is required")
	}
	if pageSize <= 0 {
		pageSize = 100
	}

	q := url.Values{}
	q.Set("preview", "true")
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	if strings.TrimSpace(pageToken) != "" {
		q.Set("pageToken", strings.TrimSpace(pageToken))
	}
	u := c.resolveAPI(fmt.Sprintf("v2/datasets/%s/transactions", url.PathEscape(datasetRID)))
	u.RawQuery = q.Encode()

	resp, err := c.request(ctx, http.MethodGet, u, "", "application/json", nil)
	if err != nil {
		return nil, "", err
	}
	if !resp.ok() {
		return nil, "", newHTTPError("listTransactions", resp.http, resp.body)
	}

	var out listTxnResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, "", fmt.Errorf("parse list transactions response: %w", err)
	}
	return out.Data, strings.TrimSpace(out.NextPageToken), nil
}

// FindLatestOpenTransaction returns the most recent OPEN transaction, if any.
func (c *Client) FindLatestOpenTransaction(ctx context.Context, datasetRID string) (string, bool, error) {
	pageToken := ""
	for {
		txns, next, err := c.ListTransactions(ctx, datasetRID, 100, pageToken)
		if err != nil {
			return "", false, err
		}
		for _, txn := range txns {
			if strings.EqualFold(strings.TrimSpace(txn.Status), "OPEN") {
				return strings.TrimSpace(txn.RID), true, nil
			}
		}
		if next == "" {
			return "", false, nil
		}
		pageToken = next
	}
}

// UploadFile uploads bytes into an open dataset transaction.
func (c *Client) UploadFile(ctx context.Context, datasetRID, txnID, filePath string, contentType string, b []byte) error {
	datasetRID = strings.TrimSpace(datasetRID)
	txnID = strings.TrimSpace(txnID)
	filePath = strings.TrimSpace(filePath)
	if datasetRID == "" || txnID == "" || filePath == "" {
		return fmt.Errorf("dataset rid, transaction id and file path are required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	q := url.Values{}
	q.Set("transactionRid", txnID)
	u := c.resolveAPI(fmt.Sprintf(
		"v2/datasets/%s/files/%s/upload",
		url.PathEscape(datasetRID),
		url.PathEscape(filePath),
	))
	u.RawQuery = q.Encode()

	resp, err := c.request(ctx, http.MethodPost, u, contentType, "application/json", b)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return newHTTPError("uploadFile", resp.http, resp.body)
	}
	return nil
}

// CommitTransaction commits an open dataset transaction.
func (c *Client) CommitTransaction(ctx context.Context, datasetRID, txnID string) error {
	datasetRID = strings.TrimSpace(datasetRID)
	txnID = strings.TrimSpace(txnID)
	if datasetRID == "" || txnID == "" {
		return fmt.Errorf("dataset rid and transaction id are required")
	}

	u := c.resolveAPI(fmt.Sprintf(
		"v2/datasets/%s/transactions/%s/commit",
		url.PathEscape(datasetRID),
		url.PathEscape(txnID),
	))
	resp, err := c.request(ctx, http.MethodPost, u, "application/json", "application/json", nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return newHTTPError("commitTransaction", resp.http, resp.body)
	}
	return nil
}

func (c *Client) resolveAPI(relPath string) *url.URL {
	rel := &url.URL{Path: path.Clean(strings.TrimLeft(relPath, "/"))}
	return c.apiBaseURL.ResolveReference(rel)
}

func (c *Client) resolveStream(relPath string) *url.URL {
	rel := &url.URL{Path: path.Clean(strings.TrimLeft(relPath, "/"))}
	return c.streamBaseURL.ResolveReference(rel)
}
