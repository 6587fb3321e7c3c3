package toolrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

const maxReplyBytes = 4 << 20

// httpTransport posts the envelope to the action endpoint. Endpoints are
// SSRF-validated once and the verdict cached for the process lifetime.
type httpTransport struct {
	cfg       config.ToolsConfig
	client    *http.Client
	logger    *slog.Logger
	validated sync.Map // endpoint -> error (nil when allowed)
}

func newHTTPTransport(cfg config.ToolsConfig, logger *slog.Logger) *httpTransport {
	return &httpTransport{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

func (t *httpTransport) invoke(ctx context.Context, act *models.ToolAction, inv *models.ToolInvocation) (map[string]any, error) {
	if err := t.checkEndpoint(act.Endpoint); err != nil {
		return nil, fmt.Errorf("tool action %s: %w", act.Name, err)
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("tool action %s: marshal envelope: %w", act.Name, err)
	}

	method := act.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, act.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tool action %s: %w", act.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := setAuthHeader(req, act); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransientProviderError(act.Plugin(), act.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, domain.NewTransientProviderError(act.Plugin(), act.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw))
		if retryableStatus(resp.StatusCode) {
			return nil, domain.NewTransientProviderError(act.Plugin(), act.Name, cause)
		}
		return nil, domain.NewPermanentProviderError(act.Plugin(), act.Name, cause)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("tool action %s: non-JSON reply: %w", act.Name, domain.ErrInvalidToolOutput)
	}
	return payload, nil
}

// checkEndpoint validates an endpoint URL once and caches the verdict
func (t *httpTransport) checkEndpoint(endpoint string) error {
	if cached, ok := t.validated.Load(endpoint); ok {
		if cached == nil {
			return nil
		}
		return cached.(error)
	}
	err := validateEndpointURL(endpoint, t.cfg.AllowedHosts, t.cfg.AllowPrivateHosts)
	if err == nil {
		t.validated.Store(endpoint, nil)
	} else {
		t.validated.Store(endpoint, err)
	}
	return err
}

func setAuthHeader(req *http.Request, act *models.ToolAction) error {
	if act.Auth == nil || act.Auth.EnvVar == "" {
		return nil
	}
	credential := os.Getenv(act.Auth.EnvVar)
	if credential == "" {
		return fmt.Errorf("tool action %s: %s: %w", act.Name, act.Auth.EnvVar, domain.ErrMissingCredentials)
	}
	switch strings.ToLower(act.Auth.Type) {
	case "api_key":
		req.Header.Set("X-API-Key", credential)
	default:
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return nil
}

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

// validateEndpointURL guards tool endpoints against SSRF: only http(s),
// optional host allowlist, and private/metadata address blocking unless
// private hosts are explicitly allowed (local demo tools).
func validateEndpointURL(rawURL string, allowedHosts []string, allowPrivate bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("endpoint URL must have a hostname")
	}

	if len(allowedHosts) > 0 {
		for _, allowed := range allowedHosts {
			if strings.EqualFold(hostname, allowed) {
				return nil
			}
		}
		return fmt.Errorf("endpoint host %q is not in the allowed hosts list", hostname)
	}

	if allowPrivate {
		return nil
	}

	lower := strings.ToLower(hostname)
	blockedHostnames := []string{
		"localhost",
		"localhost.localdomain",
		"metadata",
		"metadata.google.internal",
		"instance-data",
		"169.254.169.254",
		"metadata.azure.com",
		"kubernetes",
		"kubernetes.default",
		"kubernetes.default.svc",
		"kubernetes.default.svc.cluster.local",
	}
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return fmt.Errorf("endpoint host %q is not allowed: internal/metadata hostname", hostname)
		}
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve endpoint host %q: %w", hostname, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("endpoint host %q resolves to private address %s", hostname, ip)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast()
}
