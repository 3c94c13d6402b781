// Package client talks to a stripekeeper server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/service"
)

const apiCredentials = "/api/credentials/"

var (
	// ErrServer is returned for responses that do not map to an entry error.
	ErrServer = errors.New("server error")
	// ErrEntryTooLarge is returned when the server's credential store
	// rejected a chunk as too large.
	ErrEntryTooLarge = errors.New("entry exceeds credential store limit")
)

// kindErrors maps the error kinds reported by the server to local errors.
var kindErrors = map[string]error{
	"not_found":        entry.ErrNotFound,
	"invalid_argument": entry.ErrInvalidArgument,
	"corrupt_header":   entry.ErrCorruptHeader,
	"inconsistent":     entry.ErrInconsistent,
	"bad_encoding":     entry.ErrBadEncoding,
	"too_many_chunks":  entry.ErrTooManyChunks,
	"limit_too_small":  entry.ErrLimitTooSmall,
	"entry_too_large":  ErrEntryTooLarge,
	"orphan_cleanup":   entry.ErrOrphanCleanup,
}

// APIClient performs credential operations against a remote server.
type APIClient struct {
	HTTP    *http.Client
	BaseURL string
}

type secretBody struct {
	Secret   string `json:"secret"`
	Encoding string `json:"encoding,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type putResult struct {
	Warning *errorBody `json:"warning"`
}

// NewHTTPClient returns an http.Client trusting the PEM CA bundle at caFile
// in addition to the system roots. An empty caFile uses the system roots.
func NewHTTPClient(caFile string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caPool, err := x509.SystemCertPool()
		if err != nil || caPool == nil {
			caPool = x509.NewCertPool()
		}
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA cert")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

// SetPassword stores a UTF-8 secret.
func (c *APIClient) SetPassword(ctx context.Context, svc, user, password string) error {
	return c.put(ctx, svc, user, secretBody{Secret: password})
}

// SetSecret stores raw bytes.
func (c *APIClient) SetSecret(ctx context.Context, svc, user string, secret []byte) error {
	return c.put(ctx, svc, user, secretBody{Secret: base64.StdEncoding.EncodeToString(secret), Encoding: "base64"})
}

// GetPassword reads a UTF-8 secret.
func (c *APIClient) GetPassword(ctx context.Context, svc, user string) (string, error) {
	target, err := c.path(svc, user, "")
	if err != nil {
		return "", err
	}
	var body secretBody
	if err := c.do(ctx, http.MethodGet, target, nil, &body); err != nil {
		return "", err
	}
	return body.Secret, nil
}

// GetSecret reads raw bytes.
func (c *APIClient) GetSecret(ctx context.Context, svc, user string) ([]byte, error) {
	target, err := c.path(svc, user, "?encoding=base64")
	if err != nil {
		return nil, err
	}
	var body secretBody
	if err := c.do(ctx, http.MethodGet, target, nil, &body); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(body.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return data, nil
}

// Delete removes the credential.
func (c *APIClient) Delete(ctx context.Context, svc, user string) error {
	target, err := c.path(svc, user, "")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, target, nil, nil)
}

// Inspect fetches the chunk snapshot of the credential.
func (c *APIClient) Inspect(ctx context.Context, svc, user string) (service.SnapshotView, error) {
	target, err := c.path(svc, user, "/snapshot")
	if err != nil {
		return service.SnapshotView{}, err
	}
	var view service.SnapshotView
	err = c.do(ctx, http.MethodGet, target, nil, &view)
	return view, err
}

func (c *APIClient) put(ctx context.Context, svc, user string, body secretBody) error {
	target, err := c.path(svc, user, "")
	if err != nil {
		return err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var res putResult
	if err := c.do(ctx, http.MethodPut, target, b, &res); err != nil {
		return err
	}
	if res.Warning != nil {
		// written, but the previous secret left chunks behind
		return kindError(res.Warning.Error, res.Warning.Message)
	}
	return nil
}

func (c *APIClient) path(svc, user, suffix string) (string, error) {
	if svc == "" || user == "" {
		return "", fmt.Errorf("%w: service and user cannot be empty", entry.ErrInvalidArgument)
	}
	return strings.TrimRight(c.BaseURL, "/") + apiCredentials + url.PathEscape(svc) + "/" + url.PathEscape(user) + suffix, nil
}

func (c *APIClient) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError maps an error response back to the error it reports. The
// error kind in a JSON body wins; plain bodies fall back to the status.
func statusError(code int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		if err := kindError(body.Error, body.Message); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d %s", ErrServer, code, body.Message)
	}

	msg := strings.TrimSpace(string(data))
	var sentinel error
	switch code {
	case http.StatusNotFound:
		sentinel = entry.ErrNotFound
	case http.StatusBadRequest:
		sentinel = entry.ErrInvalidArgument
	case http.StatusConflict:
		sentinel = entry.ErrInconsistent
	case http.StatusUnprocessableEntity:
		sentinel = entry.ErrBadEncoding
	case http.StatusRequestEntityTooLarge:
		sentinel = entry.ErrTooManyChunks
	default:
		return fmt.Errorf("%w: %d %s", ErrServer, code, msg)
	}
	return fmt.Errorf("%w (server: %s)", sentinel, msg)
}

// kindError returns the local error for a known kind, or nil.
func kindError(kind, msg string) error {
	sentinel, ok := kindErrors[kind]
	if !ok {
		return nil
	}
	return fmt.Errorf("%w (server: %s)", sentinel, msg)
}
