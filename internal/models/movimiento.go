package models

// Movimiento is one procedural step within a case's timeline, as returned
// by the portal's AJAX movement listing. LinkEscrito is absolute by the
// time a Movimiento leaves the parser; an empty value means the movement
// carries no downloadable document.
type Movimiento struct {
	ExpedienteNro     string `json:"expediente_nro"`
	NombreEscrito     string `json:"nombre_escrito"`
	LinkEscrito       string `json:"link_escrito"`
	FechaPresentacion string `json:"fecha_presentacion"`
	Tipo              string `json:"tipo"`
	Estado            string `json:"estado"`
	GeneradoPor       string `json:"generado_por"`
	Descripcion       string `json:"descripcion"`
	FechaFirma        string `json:"fecha_firma"`
	FechaPublicacion  string `json:"fecha_publicacion"`
}

// MovimientoCSVHeader is the column order of per-case movement CSVs.
var MovimientoCSVHeader = []string{
	"expediente_nro", "nombre_escrito", "link_escrito", "fecha_presentacion",
	"tipo", "estado", "generado_por", "descripcion", "fecha_firma",
	"fecha_publicacion",
}

// CSVRecord returns the movement as a CSV row in header order
func (m *Movimiento) CSVRecord() []string {
	return []string{
		m.ExpedienteNro, m.NombreEscrito, m.LinkEscrito, m.FechaPresentacion,
		m.Tipo, m.Estado, m.GeneradoPor, m.Descripcion, m.FechaFirma,
		m.FechaPublicacion,
	}
}

// MovimientoFromCSVRecord rebuilds a movement from a CSV row
func MovimientoFromCSVRecord(rec []string) *Movimiento {
	m := &Movimiento{}
	fields := []*string{
		&m.ExpedienteNro, &m.NombreEscrito, &m.LinkEscrito, &m.FechaPresentacion,
		&m.Tipo, &m.Estado, &m.GeneradoPor, &m.Descripcion, &m.FechaFirma,
		&m.FechaPublicacion,
	}
	for i, f := range fields {
		if i < len(rec) {
			*f = rec[i]
		}
	}
	return m
}
