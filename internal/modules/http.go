package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"pkt.systems/crmdesk/schema"
	"pkt.systems/pslog"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// HTTPSource fetches the module list from the upstream CRM API.
type HTTPSource struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	timeout time.Duration
}

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// Client overrides the default client, mainly for tests.
	Client *http.Client
}

// NewHTTPSource validates cfg and returns a source for <base_url>/modules.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("module source base url is required")
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("module source base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, errors.New("module source base url must include scheme and host")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPSource{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		http:    client,
		timeout: timeout,
	}, nil
}

// Modules implements nav.ModuleSource.
func (s *HTTPSource) Modules(ctx context.Context) ([]schema.Module, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqURL := *s.baseURL
	reqURL.Path = path.Join("/", reqURL.Path, "modules")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	log := pslog.Ctx(ctx)
	start := time.Now()
	res, err := s.http.Do(req)
	if err != nil {
		log.Debug("modules fetch failed", "url", reqURL.String(), "err", err)
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, readAPIError(res)
	}
	modules, err := decodeModules(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	log.Debug("modules fetched", "url", reqURL.String(), "count", len(modules), "duration", time.Since(start))
	return modules, nil
}

func readAPIError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("module source: %s", res.Status)
	}
	return fmt.Errorf("module source: %s: %s", res.Status, msg)
}

// decodeModules accepts a bare array or an object wrapping it in "modules"
// or "data".
func decodeModules(r io.Reader) ([]schema.Module, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode modules: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Modules []schema.Module `json:"modules"`
			Data    []schema.Module `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode modules: %w", err)
		}
		if wrapped.Modules != nil {
			return cleanModules(wrapped.Modules), nil
		}
		return cleanModules(wrapped.Data), nil
	}
	var modules []schema.Module
	if err := json.Unmarshal(raw, &modules); err != nil {
		return nil, fmt.Errorf("decode modules: %w", err)
	}
	return cleanModules(modules), nil
}

func cleanModules(in []schema.Module) []schema.Module {
	out := make([]schema.Module, 0, len(in))
	for _, m := range in {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
