package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/wallet"
)

// Client is a thin JSON client for the wallet API, used by smoke tooling and
// service-to-service callers.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate obtains a bearer token for the given user and keeps it for
// subsequent owner-scoped calls.
func (c *Client) Authenticate(ctx context.Context, user string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/auth/token", map[string]any{
		"user":  user,
		"roles": []string{"owner"},
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// ImportCredentialRequest mirrors the import endpoint body.
type ImportCredentialRequest struct {
	Title        string            `json:"title"`
	IssuerName   string            `json:"issuer_name"`
	IssuerDomain string            `json:"issuer_domain,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Category     string            `json:"category,omitempty"`
	IssuedDate   time.Time         `json:"issued_date"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Payload      map[string]string `json:"payload"`
}

func (c *Client) ImportCredential(ctx context.Context, req ImportCredentialRequest) (wallet.Credential, error) {
	var cred wallet.Credential
	err := c.do(ctx, http.MethodPost, "/v1/credentials", req, &cred)
	return cred, err
}

// CreateShareRequest mirrors the share issuance endpoint body.
type CreateShareRequest struct {
	CredentialID    string                       `json:"credential_id"`
	Preset          string                       `json:"preset,omitempty"`
	SelectedFields  []string                     `json:"selected_fields,omitempty"`
	FieldVisibility map[string]wallet.Visibility `json:"field_visibility,omitempty"`
	ExpiresAt       time.Time                    `json:"expires_at"`
	MaxViews        int                          `json:"max_views"`
	AccessCode      string                       `json:"access_code,omitempty"`
}

// CreatedShare is the issuance response: the share plus its public URL.
type CreatedShare struct {
	wallet.Share
	URL string `json:"url"`
}

func (c *Client) CreateShare(ctx context.Context, req CreateShareRequest) (CreatedShare, error) {
	var share CreatedShare
	err := c.do(ctx, http.MethodPost, "/v1/shares", req, &share)
	return share, err
}

func (c *Client) RevokeShare(ctx context.Context, shareID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/shares/"+shareID, nil, nil)
}

func (c *Client) ShareAnalytics(ctx context.Context, shareID string) (wallet.AnalyticsReport, error) {
	var report wallet.AnalyticsReport
	err := c.do(ctx, http.MethodGet, "/v1/shares/"+shareID+"/analytics", nil, &report)
	return report, err
}

// Verify calls the public verification endpoint. Terminal statuses and the
// access-code gate arrive inside the result, not as errors; err is reserved
// for transport trouble and server failure.
func (c *Client) Verify(ctx context.Context, shareID, accessCode string) (wallet.VerificationResult, error) {
	var body any
	if accessCode != "" {
		body = map[string]string{"access_code": accessCode}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v/"+shareID, body)
	if err != nil {
		return wallet.VerificationResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wallet.VerificationResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return wallet.VerificationResult{}, fmt.Errorf("verify %s: status %d", shareID, resp.StatusCode)
	}
	var result wallet.VerificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return wallet.VerificationResult{}, err
	}
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
