package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/katlab/katcore/internal/errors"
)

// DefaultCollection is the remote collection sessions are posted to.
const DefaultCollection = "kat_sessions"

// maxErrorBody caps how much of a rejection body is kept in the error.
const maxErrorBody = 4096

// Endpoint identifies the remote store and the credential to present.
type Endpoint struct {
	ServerURL string
	Token     string
}

// PostResult is the remote store's acknowledgement of a new document.
type PostResult struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Transport sends documents to the remote store.
type Transport interface {
	// Post sends the whole document in one request.
	Post(ctx context.Context, ep Endpoint, doc *Document) (*PostResult, error)

	// Probe checks the collection is reachable and returns its document count.
	Probe(ctx context.Context, ep Endpoint) (int, error)
}

// HTTPConfig holds transport configuration.
type HTTPConfig struct {
	Collection string
	Timeout    time.Duration // the only timeout applied to a request
}

// HTTPTransport implements Transport over HTTP with bearer authentication.
type HTTPTransport struct {
	collection string
	httpClient *http.Client
}

// NewHTTPTransport creates a new HTTPTransport. A nil config uses the
// default collection and a 30 second timeout.
func NewHTTPTransport(config *HTTPConfig) *HTTPTransport {
	if config == nil {
		config = &HTTPConfig{}
	}
	collection := config.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPTransport{
		collection: collection,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Collection returns the collection documents are posted to.
func (t *HTTPTransport) Collection() string {
	return t.collection
}

// Post sends doc to {serverURL}/{collection}. A transport failure is a
// NETWORK_ERROR; a non-2xx status, or a 2xx without a document id, is a
// REMOTE_REJECTION.
func (t *HTTPTransport) Post(ctx context.Context, ep Endpoint, doc *Document) (*PostResult, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode document", err)
	}

	req, err := t.createRequest(ctx, http.MethodPost, ep, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Network("post document", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Network("read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.RemoteRejection(resp.StatusCode, errorDetail(raw))
	}

	var result PostResult
	if err := json.Unmarshal(raw, &result); err != nil || result.ID == "" {
		return nil, apperrors.RemoteRejection(resp.StatusCode, "response has no document id: "+errorDetail(raw))
	}
	return &result, nil
}

// Probe performs a GET on the collection and reads total_rows.
func (t *HTTPTransport) Probe(ctx context.Context, ep Endpoint) (int, error) {
	req, err := t.createRequest(ctx, http.MethodGet, ep, nil)
	if err != nil {
		return 0, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.Network("connection failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &apperrors.AppError{
			Code:       apperrors.ErrRemoteRejection,
			Message:    fmt.Sprintf("server returned %d: %s", resp.StatusCode, orDefault(errorDetail(raw), http.StatusText(resp.StatusCode))),
			StatusCode: resp.StatusCode,
		}
	}

	var info struct {
		TotalRows int `json:"total_rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil && err != io.EOF {
		return 0, apperrors.Wrap(apperrors.ErrRemoteRejection, "decode collection info", err)
	}
	return info.TotalRows, nil
}

// createRequest builds a request against the collection with the bearer token.
func (t *HTTPTransport) createRequest(ctx context.Context, method string, ep Endpoint, body io.Reader) (*http.Request, error) {
	base := strings.TrimRight(strings.TrimSpace(ep.ServerURL), "/")
	if base == "" {
		return nil, apperrors.Configuration("Sync server URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, base+"/"+t.collection, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, "invalid sync server URL", err)
	}
	req.Header.Set("Authorization", "Bearer "+ep.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func errorDetail(raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return strings.TrimSpace(string(raw))
}

var _ Transport = (*HTTPTransport)(nil)
