package portal

import (
	"context"
	"net/url"
	"strconv"

	"github.com/marianodevel/siped/internal/models"
)

// ScrapeExpedientes paginates the case-search endpoint into the full,
// order-preserving master list. Pagination ends when a page yields no
// rows or no next-offset control; a malformed control ends it silently
// as exhaustion, not error.
func (s *Scraper) ScrapeExpedientes(ctx context.Context) ([]*models.Expediente, error) {
	var all []*models.Expediente
	inicio := 0
	page := 1

	for {
		s.logger.Debug().Int("page", page).Int("inicio", inicio).Msg("Fetching expediente list page")

		html, err := s.get(ctx, s.portal.ListURL(), url.Values{"inicio": {strconv.Itoa(inicio)}})
		if err != nil {
			if page == 1 {
				return nil, err
			}
			// Mid-run page failure: keep what we have, matching the
			// portal's habit of dropping sessions on deep pagination.
			s.logger.Warn().Err(err).Int("page", page).Msg("List page fetch failed; stopping pagination")
			break
		}

		rows := s.parser.ParseExpedienteList(html, s.portal.ListURL())
		if len(rows) == 0 {
			s.logger.Debug().Int("page", page).Msg("Empty list page; pagination exhausted")
			break
		}
		all = append(all, rows...)

		next, ok := s.parser.NextPageOffset(html)
		if !ok {
			break
		}
		inicio = next
		page++
	}

	s.logger.Info().Int("total", len(all)).Int("pages", page).Msg("Expediente list scraped")
	return all, nil
}
