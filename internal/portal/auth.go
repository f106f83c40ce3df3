package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
)

// Named failures for the login handshake. Each step performs a single
// request; there are no retries.
var (
	// ErrAuthRedirectMissing means the login response carried no meta
	// refresh: bad credentials or a portal change.
	ErrAuthRedirectMissing = errors.New("login rejected: meta refresh to menu not found")

	// ErrTokenLinkMissing means the menu page carried no tokenized link
	// into the case-management sub-application.
	ErrTokenLinkMissing = errors.New("navigation failed: siped token link not found in menu")

	// ErrDashboardRedirectMissing means the token page's refresh did not
	// point at the expected dashboard path.
	ErrDashboardRedirectMissing = errors.New("navigation failed: dashboard redirect not found")
)

// dashboardMarker is the path fragment the final meta refresh must contain
const dashboardMarker = "frame_principal.php"

// Authenticator executes the portal's multi-step login handshake
type Authenticator struct {
	cfg    common.PortalConfig
	parser *Parser
	logger arbor.ILogger
}

// NewAuthenticator creates an authenticator for the configured portal
func NewAuthenticator(cfg common.PortalConfig, logger arbor.ILogger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		parser: NewParser(cfg.BaseURL, logger),
		logger: logger,
	}
}

// Login walks the four-step redirect chase and returns the accumulated
// session cookies. Any step's failure aborts with its named error.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (CookieSet, error) {
	client, err := NewClient(a.cfg)
	if err != nil {
		return nil, err
	}

	a.logger.Info().Str("usuario", creds.Usuario).Msg("Starting portal login")

	// Step 1: POST credentials
	form := url.Values{"usuario": {creds.Usuario}, "pass": {creds.Clave}}
	loginHTML, err := a.postForm(ctx, client, a.cfg.LoginURL(), form)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}

	// Step 2: follow the client-side refresh into the services menu
	menuURL := a.parser.MetaRefreshURL(loginHTML, a.cfg.BaseURL+"/servicios")
	if menuURL == "" {
		return nil, ErrAuthRedirectMissing
	}

	menuHTML, err := a.get(ctx, client, menuURL)
	if err != nil {
		return nil, fmt.Errorf("menu request failed: %w", err)
	}

	// Step 3: follow the tokenized link into siped
	tokenURL := a.parser.TokenLink(menuHTML)
	if tokenURL == "" {
		return nil, ErrTokenLinkMissing
	}

	tokenHTML, err := a.get(ctx, client, tokenURL)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	// Step 4: final refresh must land on the dashboard frameset
	dashboardURL := a.parser.MetaRefreshURL(tokenHTML, a.cfg.BaseURL+"/siped")
	if dashboardURL == "" || !strings.Contains(dashboardURL, dashboardMarker) {
		return nil, ErrDashboardRedirectMissing
	}

	// The dashboard GET finalizes server-side session state
	if _, err := a.get(ctx, client, dashboardURL); err != nil {
		return nil, fmt.Errorf("dashboard request failed: %w", err)
	}

	cookies, err := cookiesFromJar(client, a.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	a.logger.Info().Str("usuario", creds.Usuario).Int("cookies", len(cookies)).Msg("Portal session established")
	return cookies, nil
}

func (a *Authenticator) postForm(ctx context.Context, client *http.Client, target string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(client, req)
}

func (a *Authenticator) get(ctx context.Context, client *http.Client, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, req.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}
