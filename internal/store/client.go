// Package store talks to the workflow engine's credential API, the system of
// record for connector credentials.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zalo-connector-go/internal/platform/errors"
)

// CredentialData is the connector-specific payload of a stored credential.
// Cookie is kept as a JSON string so the credential form can round-trip it.
type CredentialData struct {
	Cookie      string `json:"cookie"`
	IMEI        string `json:"imei"`
	UserAgent   string `json:"userAgent"`
	Proxy       string `json:"proxy"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	UserID      string `json:"userId"`
	LicenseCode string `json:"licenseCode,omitempty"`
}

// Credential is a stored credential record.
type Credential struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	NodesAccess []map[string]any `json:"nodesAccess,omitempty"`
	Data        CredentialData   `json:"data"`
}

// UpdateRequest carries a partial update (PATCH).
type UpdateRequest struct {
	Name string         `json:"name"`
	Data CredentialData `json:"data"`
}

// ReplaceRequest carries a full replacement (PUT / POST). Type and
// NodesAccess must be re-submitted to satisfy the store's validation.
type ReplaceRequest struct {
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	NodesAccess []map[string]any `json:"nodesAccess"`
	Data        CredentialData   `json:"data"`
}

// Client is the credential store surface the reconciler depends on.
type Client interface {
	List(ctx context.Context) ([]Credential, error)
	Get(ctx context.Context, id string) (Credential, error)
	Patch(ctx context.Context, id string, req UpdateRequest) error
	Put(ctx context.Context, id string, req ReplaceRequest) error
	Create(ctx context.Context, req ReplaceRequest) (Credential, error)
}

// ErrMethodNotSupported reports that the store rejected the HTTP verb; the
// caller should fall back to a full-replace update.
var ErrMethodNotSupported = errors.New(errors.KindStore, "credential.update",
	"update verb not supported by the credential store")

// HTTPClient implements Client against the n8n REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a client for the API at baseURL authenticating with
// apiKey.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type listEnvelope struct {
	Data []Credential `json:"data"`
}

func (c *HTTPClient) List(ctx context.Context) ([]Credential, error) {
	var envelope listEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/v1/credentials", nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func (c *HTTPClient) Get(ctx context.Context, id string) (Credential, error) {
	var cred Credential
	if err := c.do(ctx, http.MethodGet, "/api/v1/credentials/"+id, nil, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

func (c *HTTPClient) Patch(ctx context.Context, id string, req UpdateRequest) error {
	return c.do(ctx, http.MethodPatch, "/api/v1/credentials/"+id, req, nil)
}

func (c *HTTPClient) Put(ctx context.Context, id string, req ReplaceRequest) error {
	return c.do(ctx, http.MethodPut, "/api/v1/credentials/"+id, req, nil)
}

func (c *HTTPClient) Create(ctx context.Context, req ReplaceRequest) (Credential, error) {
	var cred Credential
	if err := c.do(ctx, http.MethodPost, "/api/v1/credentials", req, &cred); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	op := "credential." + strings.ToLower(method)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.KindStore, op, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(errors.KindStore, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-N8N-API-KEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindStore, op, "credential store unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return ErrMethodNotSupported
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.New(errors.KindStore, op,
			fmt.Sprintf("credential store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(errors.KindStore, op, "decode response", err)
		}
	}
	return nil
}
