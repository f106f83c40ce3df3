package portal

import (
	"context"
	"net/url"
	"strconv"

	"github.com/marianodevel/siped/internal/models"
)

// ScrapeMovimientos walks one case's detail-page chain and collects every
// movement via the AJAX listing. Failures before the AJAX loop are
// per-case soft failures: the case yields no movements but the run
// continues.
func (s *Scraper) ScrapeMovimientos(ctx context.Context, expediente *models.Expediente) ([]*models.Movimiento, error) {
	if expediente.LinkDetalle == "" {
		s.logger.Warn().Str("expediente", expediente.Nro).Msg("Expediente has no detail link")
		return nil, nil
	}

	// The detail URL serves a frameset; the real content lives in the
	// "sup" frame.
	framesetHTML, err := s.get(ctx, expediente.LinkDetalle, nil)
	if err != nil {
		return nil, err
	}

	contentURL := s.parser.FrameSrc(framesetHTML, "sup", expediente.LinkDetalle)
	if contentURL == "" {
		s.logger.Warn().Str("expediente", expediente.Nro).Msg("Detail frameset has no sup frame")
		return nil, nil
	}

	detailHTML, err := s.get(ctx, contentURL, nil)
	if err != nil {
		return nil, err
	}

	ajaxParams := s.parser.AjaxParams(detailHTML)
	if ajaxParams["exp_id"] == "" {
		s.logger.Warn().Str("expediente", expediente.Nro).Msg("Could not extract AJAX params from detail page")
		return nil, nil
	}

	return s.scrapeMovimientoPages(ctx, expediente.Nro, ajaxParams)
}

// scrapeMovimientoPages runs the AJAX pagination loop. Parsed-zero-rows
// is the authoritative termination signal; the byte-length check stays as
// a fast path for the portal's empty-page responses.
func (s *Scraper) scrapeMovimientoPages(ctx context.Context, expedienteNro string, base map[string]string) ([]*models.Movimiento, error) {
	var movimientos []*models.Movimiento
	offset := 0
	page := 1

	for {
		params := url.Values{
			"numerodemas":    {strconv.Itoa(page)},
			"offset":         {strconv.Itoa(offset)},
			"usuariointerno": {"0"},
			"tipof":          {""},
			"estadose":       {""},
			"descripcorta":   {""},
			"contenido":      {""},
			"pe":             {""},
			"acumulados":     {""},
		}
		for key, value := range base {
			params.Set(key, value)
		}

		html, err := s.get(ctx, s.portal.AjaxURL(), params)
		if err != nil {
			return movimientos, err
		}

		if len(html) < s.cfg.AjaxMinBodyBytes {
			break
		}

		rows := s.parser.ParseMovimientos(html, expedienteNro, s.portal.AjaxURL())
		if len(rows) == 0 {
			break
		}

		movimientos = append(movimientos, rows...)
		offset += s.cfg.AjaxPageStride
		page++
	}

	s.logger.Debug().Str("expediente", expedienteNro).Int("movimientos", len(movimientos)).Int("pages", page).Msg("Movement pagination finished")
	return movimientos, nil
}
