package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/marianodevel/siped/internal/models"
)

// ScrapeDocumento fetches one movement's document page and extracts its
// metadata and PDF links. A nil result with nil error means the page
// could not be used; callers treat it as a skippable per-item failure.
func (s *Scraper) ScrapeDocumento(ctx context.Context, documentURL string) (*models.Documento, error) {
	if strings.TrimSpace(documentURL) == "" {
		return nil, nil
	}

	html, err := s.get(ctx, documentURL, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", documentURL).Msg("Document page fetch failed")
		return nil, nil
	}

	return s.parser.ParseDocumento(html), nil
}

// Download streams a PDF to destPath, creating parent directories as
// needed. The write goes through a temp file so an interrupted download
// never leaves a partial file at the canonical path, which would
// otherwise satisfy the presence check forever.
func (s *Scraper) Download(ctx context.Context, fileURL, destPath string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, fileURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		// The portal answers expired links with an HTML error page
		return fmt.Errorf("expected a document, got %s for %s", contentType, fileURL)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	tmpPath := destPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, destPath)
}
