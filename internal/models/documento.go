package models

// Adjunto is one attachment link on a document page
type Adjunto struct {
	Nombre string `json:"nombre"`
	URL    string `json:"url"`
}

// Firmante is one signer entry on a document page
type Firmante struct {
	Cargo  string `json:"cargo"`
	Nombre string `json:"nombre"`
	Fecha  string `json:"fecha"`
}

// Documento holds the structured content of one movement's document page.
// It is derived per movement and consumed immediately to drive downloads;
// only the resulting PDF files persist.
type Documento struct {
	ExpedienteNro    string     `json:"expediente_nro"`
	Caratula         string     `json:"caratula"`
	URLPDFPrincipal  string     `json:"url_pdf_principal"` // empty when the page has no main PDF
	Adjuntos         []Adjunto  `json:"adjuntos"`
	Firmantes        []Firmante `json:"firmantes"`
	TextoProvidencia string     `json:"texto_providencia"`
}
