package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
)

// IndiceName sorts ahead of every numbered download, so the cover sheet
// becomes the first pages of the consolidated file
const IndiceName = "00_indice.pdf"

// IndiceWriter generates a one-page index listing the files a case
// consolidation will contain
type IndiceWriter struct {
	logger arbor.ILogger
}

// NewIndiceWriter creates a new IndiceWriter
func NewIndiceWriter(logger arbor.ILogger) *IndiceWriter {
	return &IndiceWriter{logger: logger}
}

// Write renders the index into caseDir for the named case and returns the
// generated file's path
func (w *IndiceWriter) Write(caseDir, caseName string, files []string) (string, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.SetAutoPageBreak(true, 15)
	doc.AddPage()

	doc.SetFont("Arial", "B", 14)
	doc.MultiCell(0, 8, caseName, "", "L", false)
	doc.Ln(2)

	doc.SetFont("Arial", "", 9)
	doc.CellFormat(0, 5, fmt.Sprintf("Generado: %s", time.Now().Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	doc.CellFormat(0, 5, fmt.Sprintf("Documentos incluidos: %d", len(files)), "", 1, "L", false, 0, "")
	doc.Ln(4)

	doc.SetFont("Courier", "", 9)
	for _, name := range files {
		doc.CellFormat(0, 5, name, "", 1, "L", false, 0, "")
	}

	outPath := filepath.Join(caseDir, IndiceName)
	if err := os.MkdirAll(caseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create case directory: %w", err)
	}
	if err := doc.OutputFileAndClose(outPath); err != nil {
		return "", fmt.Errorf("failed to write index PDF: %w", err)
	}

	w.logger.Debug().Str("path", outPath).Int("files", len(files)).Msg("Index PDF written")
	return outPath, nil
}
