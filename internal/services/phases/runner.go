package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/models"
	"github.com/marianodevel/siped/internal/portal"
	"github.com/marianodevel/siped/internal/services/pdf"
	"github.com/marianodevel/siped/internal/storage/files"
)

// Runner executes the four top-level phases. Each phase receives the
// session cookies captured at login, rebuilds a client around them and
// walks its unit of work sequentially.
//
// Failures follow three tiers: anything before the per-item loop starts
// is phase-fatal and surfaces as the returned error; one item failing is
// logged and skipped; a missing HTML structure inside the parser yields
// empty data, which is a valid outcome here, not an error.
type Runner struct {
	cfg          *common.Config
	store        *files.Store
	consolidator *pdf.Consolidator
	indice       *pdf.IndiceWriter
	logger       arbor.ILogger
}

// NewRunner creates a phase runner
func NewRunner(cfg *common.Config, store *files.Store, consolidator *pdf.Consolidator, indice *pdf.IndiceWriter, logger arbor.ILogger) *Runner {
	return &Runner{
		cfg:          cfg,
		store:        store,
		consolidator: consolidator,
		indice:       indice,
		logger:       logger,
	}
}

// Run dispatches a phase by name. expedienteNro is only meaningful for
// the single-case phase.
func (r *Runner) Run(ctx context.Context, phase, userID, expedienteNro string, cookies portal.CookieSet) (string, error) {
	switch phase {
	case models.PhaseLista:
		return r.RunLista(ctx, userID, cookies)
	case models.PhaseMovimientos:
		return r.RunMovimientos(ctx, userID, cookies)
	case models.PhaseDocumentos:
		return r.RunDocumentos(ctx, userID, cookies)
	case models.PhaseUnico:
		return r.RunUnico(ctx, userID, expedienteNro, cookies)
	}
	return "", fmt.Errorf("unknown phase: %s", phase)
}

// runWithSession rebuilds a session from cookies and runs the phase body,
// normalizing panics into the fatal failure tier
func (r *Runner) runWithSession(ctx context.Context, cookies portal.CookieSet, fn func(*portal.Scraper) (string, error)) (summary string, err error) {
	client, err := portal.NewClientWithCookies(r.cfg.Portal, cookies)
	if err != nil {
		return "", fmt.Errorf("failed to rebuild session: %w", err)
	}
	scraper := portal.NewScraper(client, r.cfg.Portal, r.cfg.Scraper, r.logger)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("panic", fmt.Sprint(rec)).Msg("Phase panicked")
			summary = ""
			err = fmt.Errorf("phase aborted: %v", rec)
		}
	}()

	return fn(scraper)
}

// RunLista scrapes the full case list and overwrites the user's master CSV
func (r *Runner) RunLista(ctx context.Context, userID string, cookies portal.CookieSet) (string, error) {
	return r.runWithSession(ctx, cookies, func(scraper *portal.Scraper) (string, error) {
		userRoot, err := r.store.RootFor(userID)
		if err != nil {
			return "", err
		}

		expedientes, err := scraper.ScrapeExpedientes(ctx)
		if err != nil {
			return "", err
		}
		if len(expedientes) == 0 {
			return "No se encontraron expedientes.", nil
		}

		masterPath := r.store.MasterCSVPath(userRoot)
		if err := r.store.SaveExpedientes(masterPath, expedientes); err != nil {
			return "", err
		}

		r.logger.Info().Str("user_id", userID).Int("expedientes", len(expedientes)).Msg("Master list saved")
		return fmt.Sprintf("Lista de expedientes guardada. Total: %d", len(expedientes)), nil
	})
}

// RunMovimientos fetches the movement history of every case in the master
// list that has no movement CSV yet
func (r *Runner) RunMovimientos(ctx context.Context, userID string, cookies portal.CookieSet) (string, error) {
	return r.runWithSession(ctx, cookies, func(scraper *portal.Scraper) (string, error) {
		userRoot, err := r.store.RootFor(userID)
		if err != nil {
			return "", err
		}

		expedientes, err := r.store.ReadExpedientes(r.store.MasterCSVPath(userRoot))
		if err != nil {
			return "", fmt.Errorf("no se encontró el archivo maestro, ejecute la fase 1 primero: %w", err)
		}

		nuevos := 0
		saltados := 0
		fallidos := 0

		for i, exp := range expedientes {
			csvPath := r.store.MovimientosCSVPath(userRoot, exp)
			if r.store.Exists(csvPath) {
				saltados++
				continue
			}

			r.logger.Info().
				Str("expediente", exp.Nro).
				Int("progreso", i+1).
				Int("total", len(expedientes)).
				Msg("Fetching movements")

			movimientos, err := scraper.ScrapeMovimientos(ctx, exp)
			if err != nil {
				r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Movement fetch failed, skipping case")
				fallidos++
				continue
			}
			if len(movimientos) == 0 {
				r.logger.Debug().Str("expediente", exp.Nro).Msg("No movements found")
				continue
			}

			if err := r.store.SaveMovimientos(csvPath, movimientos); err != nil {
				r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Failed to save movements, skipping case")
				fallidos++
				continue
			}
			nuevos += len(movimientos)
		}

		return fmt.Sprintf("Proceso de movimientos completado. Movimientos nuevos: %d, expedientes ya existentes: %d, fallidos: %d",
			nuevos, saltados, fallidos), nil
	})
}

// RunDocumentos downloads every movement's documents for every case and
// consolidates each case's folder into one PDF
func (r *Runner) RunDocumentos(ctx context.Context, userID string, cookies portal.CookieSet) (string, error) {
	return r.runWithSession(ctx, cookies, func(scraper *portal.Scraper) (string, error) {
		userRoot, err := r.store.RootFor(userID)
		if err != nil {
			return "", err
		}

		expedientes, err := r.store.ReadExpedientes(r.store.MasterCSVPath(userRoot))
		if err != nil {
			return "", fmt.Errorf("no se encontró el archivo maestro, ejecute la fase 1 primero: %w", err)
		}

		refetch := r.cfg.Scraper.RefetchDocuments
		descargados := 0
		consolidados := 0

		for i, exp := range expedientes {
			r.logger.Info().
				Str("expediente", exp.Nro).
				Int("progreso", i+1).
				Int("total", len(expedientes)).
				Msg("Processing case documents")

			movimientos, err := r.movimientosFor(ctx, scraper, userRoot, exp, refetch)
			if err != nil {
				r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Could not obtain movements, skipping case")
				continue
			}
			if len(movimientos) == 0 {
				continue
			}

			n := r.downloadCaseDocuments(ctx, scraper, userRoot, exp, movimientos, refetch)
			descargados += n

			consolidadoPath := r.store.ConsolidadoPath(userRoot, exp)
			if r.store.Exists(consolidadoPath) {
				if !refetch {
					r.logger.Debug().Str("expediente", exp.Nro).Msg("Consolidated PDF exists, skipping merge")
					continue
				}
				if err := r.store.Remove(consolidadoPath); err != nil {
					r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Could not remove stale consolidated PDF")
				}
			}

			if r.consolidateCase(userRoot, exp) {
				consolidados++
			}
		}

		return fmt.Sprintf("Proceso de documentos completado. Expedientes: %d, descargas nuevas: %d, consolidados generados: %d",
			len(expedientes), descargados, consolidados), nil
	})
}

// RunUnico runs the full movement+document+consolidate cycle for one case,
// re-fetching movements and rebuilding the consolidated PDF unconditionally
func (r *Runner) RunUnico(ctx context.Context, userID, expedienteNro string, cookies portal.CookieSet) (string, error) {
	return r.runWithSession(ctx, cookies, func(scraper *portal.Scraper) (string, error) {
		if expedienteNro == "" {
			return "", fmt.Errorf("expediente number is required")
		}

		userRoot, err := r.store.RootFor(userID)
		if err != nil {
			return "", err
		}

		expedientes, err := r.store.ReadExpedientes(r.store.MasterCSVPath(userRoot))
		if err != nil {
			return "", fmt.Errorf("no se encontró el archivo maestro, ejecute la fase 1 primero: %w", err)
		}

		var exp *models.Expediente
		for _, e := range expedientes {
			if e.Nro == expedienteNro {
				exp = e
				break
			}
		}
		if exp == nil {
			return "", fmt.Errorf("el expediente %s no se encontró en la lista maestra", expedienteNro)
		}

		movimientos, err := r.movimientosFor(ctx, scraper, userRoot, exp, true)
		if err != nil {
			return "", err
		}
		if len(movimientos) == 0 {
			return fmt.Sprintf("Finalizado sin datos: no hay movimientos para %s.", expedienteNro), nil
		}

		descargados := r.downloadCaseDocuments(ctx, scraper, userRoot, exp, movimientos, false)

		// Stale output blocks the merge, so force a rebuild
		consolidadoPath := r.store.ConsolidadoPath(userRoot, exp)
		if err := r.store.Remove(consolidadoPath); err != nil {
			return "", fmt.Errorf("failed to remove stale consolidated PDF: %w", err)
		}
		r.consolidateCase(userRoot, exp)

		return fmt.Sprintf("Proceso completado para %s. Descargas nuevas: %d.", expedienteNro, descargados), nil
	})
}

// movimientosFor returns a case's movements. With refetch set the portal
// is always consulted and the CSV rewritten, falling back to the local
// copy when the portal returns nothing; otherwise the local CSV wins and
// the portal is only consulted when it is absent.
func (r *Runner) movimientosFor(ctx context.Context, scraper *portal.Scraper, userRoot string, exp *models.Expediente, refetch bool) ([]*models.Movimiento, error) {
	csvPath := r.store.MovimientosCSVPath(userRoot, exp)

	if !refetch && r.store.Exists(csvPath) {
		return r.store.ReadMovimientos(csvPath)
	}

	movimientos, err := scraper.ScrapeMovimientos(ctx, exp)
	if err != nil {
		if !refetch {
			return nil, err
		}
		r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Movement refetch failed, trying local CSV")
		movimientos = nil
	}

	if len(movimientos) > 0 {
		if err := r.store.SaveMovimientos(csvPath, movimientos); err != nil {
			return nil, err
		}
		return movimientos, nil
	}

	if refetch && r.store.Exists(csvPath) {
		r.logger.Debug().Str("expediente", exp.Nro).Msg("Portal returned no movements, using local CSV")
		return r.store.ReadMovimientos(csvPath)
	}
	return nil, nil
}

// downloadCaseDocuments walks a case's movements in order, scrapes each
// linked document page and downloads its main PDF and attachments into the
// case folder. With refetch set, files already on disk are downloaded
// again. Returns the number of new files on disk. Every failure in here
// is per-item: logged and skipped.
func (r *Runner) downloadCaseDocuments(ctx context.Context, scraper *portal.Scraper, userRoot string, exp *models.Expediente, movimientos []*models.Movimiento, refetch bool) int {
	caseDir := r.store.CaseFolderPath(userRoot, exp)
	descargados := 0
	seq := 0

	for _, mov := range movimientos {
		if strings.TrimSpace(mov.LinkEscrito) == "" {
			continue
		}
		seq++

		principalPath := filepath.Join(caseDir, files.PrincipalPDFName(seq))
		if !refetch && r.store.Exists(principalPath) {
			r.logger.Debug().Str("expediente", exp.Nro).Int("seq", seq).Msg("Document already downloaded, skipping")
			continue
		}

		doc, err := scraper.ScrapeDocumento(ctx, mov.LinkEscrito)
		if err != nil || doc == nil {
			r.logger.Warn().Err(err).Str("expediente", exp.Nro).Int("seq", seq).Msg("Document scrape failed, skipping")
			continue
		}

		if doc.URLPDFPrincipal != "" {
			if err := scraper.Download(ctx, doc.URLPDFPrincipal, principalPath); err != nil {
				r.logger.Warn().Err(err).Str("expediente", exp.Nro).Int("seq", seq).Msg("Main PDF download failed")
			} else {
				descargados++
			}
		}

		for k, adj := range doc.Adjuntos {
			adjPath := filepath.Join(caseDir, files.AdjuntoPDFName(seq, k+1, adj.Nombre))
			if !refetch && r.store.Exists(adjPath) {
				continue
			}
			if err := scraper.Download(ctx, adj.URL, adjPath); err != nil {
				r.logger.Warn().Err(err).Str("expediente", exp.Nro).Int("seq", seq).Int("adjunto", k+1).Msg("Attachment download failed")
				continue
			}
			descargados++
			time.Sleep(r.cfg.Scraper.DownloadDelay)
		}
	}

	return descargados
}

// consolidateCase merges a case folder into its consolidated PDF, writing
// the index cover sheet first when enabled. Reports whether an output was
// produced. Consolidation failure is per-item.
func (r *Runner) consolidateCase(userRoot string, exp *models.Expediente) bool {
	caseDir := r.store.CaseFolderPath(userRoot, exp)

	if r.cfg.PDF.CoverSheet {
		names := r.casePDFNames(caseDir)
		if len(names) > 0 {
			if _, err := r.indice.Write(caseDir, files.CaseBaseName(exp), names); err != nil {
				r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Failed to write index PDF")
			}
		}
	}

	outPath := r.store.ConsolidadoPath(userRoot, exp)
	merged, _, err := r.consolidator.Consolidate(caseDir, outPath)
	if err != nil {
		r.logger.Warn().Err(err).Str("expediente", exp.Nro).Msg("Consolidation failed")
		return false
	}
	return merged > 0
}

// casePDFNames lists downloaded PDFs for the cover sheet, excluding a
// previous cover sheet so regeneration does not list itself
func (r *Runner) casePDFNames(caseDir string) []string {
	entries, err := os.ReadDir(caseDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == pdf.IndiceName {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names
}
