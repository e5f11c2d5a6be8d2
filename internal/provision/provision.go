// Package provision attaches an agent's blog subdomain at the hosting
// provider.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("domain provisioning not configured")

// DomainProvisioner adds {slug}.{domain} to the hosting project and returns
// the full domain name.
type DomainProvisioner interface {
	AddSubdomain(ctx context.Context, slug string) (string, error)
}

type Noop struct{}

func (Noop) AddSubdomain(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

// Vercel talks to the Vercel projects API.
type Vercel struct {
	baseURL    string
	token      string
	projectID  string
	domain     string
	httpClient *http.Client
}

func NewVercel(baseURL, token, projectID, domain string) *Vercel {
	return &Vercel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		projectID:  projectID,
		domain:     domain,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// New returns a Vercel provisioner when all credentials are present and
// Noop otherwise.
func New(baseURL, token, projectID, domain string) DomainProvisioner {
	if token == "" || projectID == "" || domain == "" {
		return Noop{}
	}
	return NewVercel(baseURL, token, projectID, domain)
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// AddSubdomain treats 409 as success: the domain is already attached.
func (v *Vercel) AddSubdomain(ctx context.Context, slug string) (string, error) {
	domain := slug + "." + v.domain
	body, err := json.Marshal(map[string]string{"name": domain})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v10/projects/%s/domains", v.baseURL, url.PathEscape(v.projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vercel add domain: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		io.Copy(io.Discard, resp.Body)
		return domain, nil
	}

	var apiErr apiError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		return "", fmt.Errorf("vercel add domain %s: %d %s", domain, resp.StatusCode, apiErr.Error.Message)
	}
	return "", fmt.Errorf("vercel add domain %s: unexpected status %d", domain, resp.StatusCode)
}
