package portal

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/marianodevel/siped/internal/common"
)

// Credentials carries the portal login form fields. They are consumed once
// by the authenticator and never persisted; everything downstream works
// from a CookieSet.
type Credentials struct {
	Usuario string
	Clave   string
}

// CookieSet is the opaque cookie map captured after a successful login.
// It is the only session artifact passed across job boundaries.
type CookieSet map[string]string

// headerTransport injects browser-like headers on every request so the
// portal treats the client as an interactive session
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	return t.base.RoundTrip(req)
}

// NewClient creates an HTTP client with a cookie jar and browser headers,
// ready for the login handshake
func NewClient(cfg common.PortalConfig) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &http.Client{
		Jar:     jar,
		Timeout: cfg.RequestTimeout,
		Transport: &headerTransport{
			base:      http.DefaultTransport,
			userAgent: cfg.UserAgent,
		},
	}, nil
}

// NewClientWithCookies rehydrates a client from a previously captured
// cookie set, skipping the login handshake
func NewClientWithCookies(cfg common.PortalConfig, cookies CookieSet) (*http.Client, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	client.Jar.SetCookies(baseURL, httpCookies)

	return client, nil
}

// cookiesFromJar captures the jar's cookies for the portal origin as a
// plain map
func cookiesFromJar(client *http.Client, base string) (CookieSet, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	set := CookieSet{}
	for _, c := range client.Jar.Cookies(baseURL) {
		set[c.Name] = c.Value
	}
	return set, nil
}
