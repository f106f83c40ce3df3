package files

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/models"
)

// Canonical names under each user's storage root
const (
	MasterCSVName   = "expedientes_completos.csv"
	MovimientosDir  = "movimientos_expedientes"
	DocumentosDir   = "documentos_expedientes"
	defaultUserName = "default"
)

var illegalNameChars = regexp.MustCompile(`[\\*?:"<>|]`)

// Store owns the per-user on-disk tree and the presence-is-completeness
// gating discipline: a file existing at its canonical path is the sole
// signal that the corresponding fetch unit is done. It never validates
// content.
type Store struct {
	dataRoot string
	logger   arbor.ILogger
}

// NewStore creates a store rooted at dataRoot
func NewStore(dataRoot string, logger arbor.ILogger) *Store {
	return &Store{
		dataRoot: dataRoot,
		logger:   logger,
	}
}

// SanitizeName cleans a string into a valid file name. Slashes (common in
// docket numbers) become dashes; other illegal characters are dropped.
func SanitizeName(name string) string {
	if name == "" {
		return "SIN_NOMBRE"
	}
	name = strings.ReplaceAll(name, "/", "-")
	name = illegalNameChars.ReplaceAllString(name, "")
	if runes := []rune(name); len(runes) > 150 {
		name = string(runes[:150])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "SIN_NOMBRE"
	}
	return name
}

// RootFor resolves (and creates on demand) one user's storage root.
// Paths for two users never collide, which is what allows different
// users' phases to write disk concurrently.
func (s *Store) RootFor(userID string) (string, error) {
	name := SanitizeName(userID)
	if userID == "" {
		name = defaultUserName
	}
	root := filepath.Join(s.dataRoot, name)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create user root %s: %w", root, err)
	}
	return root, nil
}

// Exists reports whether the canonical path is materialized. A zero-byte
// file satisfies it; content is never inspected.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CaseBaseName builds the "NRO - CARATULA" name shared by a case's
// movement CSV, document folder and consolidated PDF
func CaseBaseName(e *models.Expediente) string {
	return fmt.Sprintf("%s - %s", SanitizeName(e.Nro), SanitizeName(e.Caratula))
}

// MasterCSVPath is the master list location under a user root
func (s *Store) MasterCSVPath(userRoot string) string {
	return filepath.Join(userRoot, MasterCSVName)
}

// MovimientosCSVPath is a case's movement CSV location
func (s *Store) MovimientosCSVPath(userRoot string, e *models.Expediente) string {
	return filepath.Join(userRoot, MovimientosDir, CaseBaseName(e)+".csv")
}

// CaseFolderPath is a case's per-document download folder
func (s *Store) CaseFolderPath(userRoot string, e *models.Expediente) string {
	return filepath.Join(userRoot, DocumentosDir, CaseBaseName(e))
}

// ConsolidadoPath is a case's merged-PDF location
func (s *Store) ConsolidadoPath(userRoot string, e *models.Expediente) string {
	return filepath.Join(userRoot, DocumentosDir, CaseBaseName(e)+" (Consolidado).pdf")
}

// PrincipalPDFName names a movement's main document file
func PrincipalPDFName(seq int) string {
	return fmt.Sprintf("%02d_principal.pdf", seq)
}

// AdjuntoPDFName names a movement's k-th attachment file
func AdjuntoPDFName(seq, k int, nombre string) string {
	base := SanitizeName(nombre)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".pdf"), ".PDF")
	return fmt.Sprintf("%02d_adjunto_%d_%s.pdf", seq, k, base)
}

// SaveExpedientes writes the master list wholesale
func (s *Store) SaveExpedientes(path string, expedientes []*models.Expediente) error {
	records := make([][]string, 0, len(expedientes))
	for _, e := range expedientes {
		records = append(records, e.CSVRecord())
	}
	return s.writeCSV(path, models.ExpedienteCSVHeader, records)
}

// ReadExpedientes reads the master list. A missing file is an error:
// later phases require Phase 1 to have run.
func (s *Store) ReadExpedientes(path string) ([]*models.Expediente, error) {
	records, err := s.readCSV(path)
	if err != nil {
		return nil, err
	}
	expedientes := make([]*models.Expediente, 0, len(records))
	for _, rec := range records {
		expedientes = append(expedientes, models.ExpedienteFromCSVRecord(rec))
	}
	return expedientes, nil
}

// SaveMovimientos overwrites a case's movement file wholesale; re-fetching
// a case replaces its history rather than merging
func (s *Store) SaveMovimientos(path string, movimientos []*models.Movimiento) error {
	records := make([][]string, 0, len(movimientos))
	for _, m := range movimientos {
		records = append(records, m.CSVRecord())
	}
	return s.writeCSV(path, models.MovimientoCSVHeader, records)
}

// ReadMovimientos reads one case's movement CSV
func (s *Store) ReadMovimientos(path string) ([]*models.Movimiento, error) {
	records, err := s.readCSV(path)
	if err != nil {
		return nil, err
	}
	movimientos := make([]*models.Movimiento, 0, len(records))
	for _, rec := range records {
		movimientos = append(movimientos, models.MovimientoFromCSVRecord(rec))
	}
	return movimientos, nil
}

// Remove deletes a file, ignoring a missing target
func (s *Store) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// HasMaster reports whether Phase 1 output exists for a user
func (s *Store) HasMaster(userRoot string) bool {
	return s.Exists(s.MasterCSVPath(userRoot))
}

// ListConsolidados returns the sorted consolidated-PDF names for the
// presentation layer
func (s *Store) ListConsolidados(userRoot string) []string {
	return s.listByExt(filepath.Join(userRoot, DocumentosDir), ".pdf")
}

// ListMovimientoCSVs returns the sorted per-case movement CSV names
func (s *Store) ListMovimientoCSVs(userRoot string) []string {
	return s.listByExt(filepath.Join(userRoot, MovimientosDir), ".csv")
}

func (s *Store) listByExt(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func (s *Store) writeCSV(path string, header []string, records [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	w.Flush()

	s.logger.Debug().Str("path", path).Int("rows", len(records)).Msg("CSV written")
	return w.Error()
}

func (s *Store) readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV %s: %w", path, err)
	}
	if len(records) <= 1 {
		return nil, nil
	}
	return records[1:], nil
}
