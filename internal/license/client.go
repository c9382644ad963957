package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"guardcli/internal/config"
)

// ProtocolClient is the wire surface the session state machine and
// heartbeat monitor drive. Defined as an interface so tests can
// substitute a scripted implementation.
type ProtocolClient interface {
	Authenticate(ctx context.Context, creds Credentials) (string, error)
	CheckLicense(ctx context.Context, token string) (CheckResult, error)
	BindFingerprint(ctx context.Context, token, fingerprint string) error
	LicenseStatus(ctx context.Context, fingerprint string) (Status, error)
	Heartbeat(ctx context.Context, fingerprint string) (Status, error)
}

// Client is a stateless request/response wrapper over the license
// server's HTTP API. Every operation returns either a typed payload or
// a classified *LicenseError; it performs no local mutation beyond the
// network call itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
	logger     *slog.Logger
	metrics    *Metrics
}

// NewClient creates a protocol client for the configured server
func NewClient(cfg config.LicenseConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		validate:   validator.New(),
		logger:     logger.With(slog.String("component", "license_client")),
	}
}

// SetMetrics attaches OpenTelemetry metrics recording
func (c *Client) SetMetrics(m *Metrics) {
	c.metrics = m
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type bindRequest struct {
	HWID string `json:"hwid"`
}

type statusRequest struct {
	HWID string `json:"hwid"`
}

// Authenticate exchanges credentials for a session token.
// A rejected login is a credential failure; an unreachable server is a
// transport failure so the shell can suggest retrying later.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (token string, err error) {
	defer c.record(ctx, "authenticate", time.Now(), &err)

	if verr := c.validate.Struct(creds); verr != nil {
		return "", WrapError(KindCredential, "email and password are required", verr)
	}

	var resp loginResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", "",
		loginRequest{Email: creds.Email, Password: creds.Password}, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", NewError(KindCredential, "invalid credentials")
	}
	if resp.Token == "" {
		return "", NewError(KindProtocol, "login response carried no token")
	}

	c.logger.DebugContext(ctx, "authentication succeeded")
	return resp.Token, nil
}

// CheckLicense fetches the account's license validity using the
// session token.
func (c *Client) CheckLicense(ctx context.Context, token string) (result CheckResult, err error) {
	defer c.record(ctx, "check_license", time.Now(), &err)

	status, err := c.doJSON(ctx, http.MethodGet, "/api/license/check", token, nil, &result)
	if err != nil {
		return CheckResult{}, err
	}
	if status != http.StatusOK {
		return CheckResult{}, NewError(KindProtocol,
			fmt.Sprintf("license check failed with status %d", status))
	}

	return result, nil
}

// BindFingerprint registers this machine's fingerprint against the
// account. The server rejects the call when another device is already
// bound, which is surfaced as its own kind so the shell can point the
// user at support instead of a generic error.
func (c *Client) BindFingerprint(ctx context.Context, token, fingerprint string) (err error) {
	defer c.record(ctx, "bind_fingerprint", time.Now(), &err)

	status, err := c.doJSON(ctx, http.MethodPost, "/api/hwid/save", token,
		bindRequest{HWID: fingerprint}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return NewError(KindUnauthorizedDevice,
			"access denied: this account is bound to another device")
	}

	return nil
}

// LicenseStatus fetches the full license status for a fingerprint
func (c *Client) LicenseStatus(ctx context.Context, fingerprint string) (Status, error) {
	return c.fingerprintStatus(ctx, "/api/loader/license-status", "license_status", fingerprint)
}

// Heartbeat re-validates the license and decrements the server-side
// time balance by one interval.
func (c *Client) Heartbeat(ctx context.Context, fingerprint string) (Status, error) {
	return c.fingerprintStatus(ctx, "/api/loader/heartbeat", "heartbeat", fingerprint)
}

func (c *Client) fingerprintStatus(ctx context.Context, path, op, fingerprint string) (result Status, err error) {
	defer c.record(ctx, op, time.Now(), &err)

	status, err := c.doJSON(ctx, http.MethodPost, path, "", statusRequest{HWID: fingerprint}, &result)
	if err != nil {
		return Status{}, err
	}
	if status != http.StatusOK {
		return Status{}, NewError(KindProtocol,
			fmt.Sprintf("%s failed with status %d", op, status))
	}

	return result, nil
}

// doJSON issues one request and decodes a JSON response. Transport
// failures (timeout, refused connection) come back as KindTransport;
// an unparseable body as KindProtocol. The HTTP status is returned to
// the caller for operation-specific classification; the body of a
// non-200 response is ignored per protocol.
func (c *Client) doJSON(ctx context.Context, method, path, token string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, WrapError(KindProtocol, "failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, WrapError(KindProtocol, "failed to build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "license server unreachable",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return 0, WrapError(KindTransport, "license server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, WrapError(KindProtocol, "malformed response body", err)
		}
	}

	return resp.StatusCode, nil
}

// record feeds the operation result into metrics when attached
func (c *Client) record(ctx context.Context, op string, start time.Time, err *error) {
	if c.metrics != nil {
		c.metrics.RecordOperation(ctx, op, time.Since(start), *err)
	}
}
