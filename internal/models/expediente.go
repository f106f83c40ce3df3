package models

// Expediente is one row of the portal's case-search results. The full
// collection forms the master list persisted once per user; every later
// phase re-reads it instead of hitting the search endpoint again.
type Expediente struct {
	Nro         string `json:"expediente"`   // docket number, may contain "/"
	LinkDetalle string `json:"link_detalle"` // absolute detail-page URL
	Caratula    string `json:"caratula"`
	Partes      string `json:"partes"`
	Estado      string `json:"estado"`
	FecUltMov   string `json:"fec_ult_mov"`
	Localidad   string `json:"localidad"`
	Dependencia string `json:"dependencia"`
	Secretaria  string `json:"secretaria"`
}

// ExpedienteCSVHeader is the column order of the master list CSV.
var ExpedienteCSVHeader = []string{
	"expediente", "link_detalle", "caratula", "partes", "estado",
	"fec_ult_mov", "localidad", "dependencia", "secretaria",
}

// CSVRecord returns the expediente as a CSV row in header order
func (e *Expediente) CSVRecord() []string {
	return []string{
		e.Nro, e.LinkDetalle, e.Caratula, e.Partes, e.Estado,
		e.FecUltMov, e.Localidad, e.Dependencia, e.Secretaria,
	}
}

// ExpedienteFromCSVRecord rebuilds an expediente from a CSV row
func ExpedienteFromCSVRecord(rec []string) *Expediente {
	e := &Expediente{}
	fields := []*string{
		&e.Nro, &e.LinkDetalle, &e.Caratula, &e.Partes, &e.Estado,
		&e.FecUltMov, &e.Localidad, &e.Dependencia, &e.Secretaria,
	}
	for i, f := range fields {
		if i < len(rec) {
			*f = rec[i]
		}
	}
	return e
}
