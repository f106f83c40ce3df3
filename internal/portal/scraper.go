package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/marianodevel/siped/internal/common"
)

// Scraper drives an authenticated client through the portal's three
// scraping flows. All portal requests go through one shared rate limiter
// so a run never hits the origin faster than the configured politeness
// delay, regardless of which flow is active.
type Scraper struct {
	client  *http.Client
	portal  common.PortalConfig
	cfg     common.ScraperConfig
	parser  *Parser
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewScraper creates a scraper around an authenticated HTTP client
func NewScraper(client *http.Client, portal common.PortalConfig, cfg common.ScraperConfig, logger arbor.ILogger) *Scraper {
	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}
	return &Scraper{
		client:  client,
		portal:  portal,
		cfg:     cfg,
		parser:  NewParser(portal.BaseURL, logger),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Parser exposes the scraper's parser, mainly for URL normalization
func (s *Scraper) Parser() *Parser {
	return s.parser
}

// get performs a rate-limited GET and returns the body as a string
func (s *Scraper) get(ctx context.Context, target string, params url.Values) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if params != nil {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid URL %s: %w", target, err)
		}
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Set(key, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}
