package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
)

// Consolidator merges a case folder's downloaded PDFs into a single
// chronological file. Input order is the lexicographic file name order,
// which the zero-padded sequence prefixes make chronological.
type Consolidator struct {
	relaxed *model.Configuration
	logger  arbor.ILogger
}

// NewConsolidator creates a new Consolidator
func NewConsolidator(logger arbor.ILogger) *Consolidator {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return &Consolidator{
		relaxed: cfg,
		logger:  logger,
	}
}

// Consolidate merges every valid PDF in caseDir into outPath. Corrupt
// files are skipped with a warning. When nothing merges, no output file
// is produced and the skip count still reports what was rejected.
func (c *Consolidator) Consolidate(caseDir, outPath string) (merged int, skipped int, err error) {
	candidates, err := c.listPDFs(caseDir)
	if err != nil {
		return 0, 0, err
	}
	if len(candidates) == 0 {
		c.logger.Debug().Str("dir", caseDir).Msg("No PDFs to consolidate")
		return 0, 0, nil
	}

	var inputs []string
	for _, name := range candidates {
		path := filepath.Join(caseDir, name)
		if _, countErr := api.PageCountFile(path); countErr != nil {
			c.logger.Warn().Err(countErr).Str("file", name).Msg("Skipping unreadable PDF")
			skipped++
			continue
		}
		inputs = append(inputs, path)
	}
	if len(inputs) == 0 {
		c.logger.Warn().Str("dir", caseDir).Int("skipped", skipped).Msg("Every PDF was unreadable, nothing consolidated")
		return 0, skipped, nil
	}

	if err := api.MergeCreateFile(inputs, outPath, false, c.relaxed); err != nil {
		return 0, skipped, fmt.Errorf("failed to merge PDFs into %s: %w", outPath, err)
	}

	c.logger.Info().
		Str("output", filepath.Base(outPath)).
		Int("merged", len(inputs)).
		Int("skipped", skipped).
		Msg("Case PDFs consolidated")
	return len(inputs), skipped, nil
}

// listPDFs returns the sorted .pdf file names directly under dir
func (c *Consolidator) listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read case directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
