package portal

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/models"
)

// PDFKind selects the canonical path shape for document-serving URLs
type PDFKind int

const (
	PDFPrincipal PDFKind = iota
	PDFAdjunto
)

// Canonical directories for the portal's document-serving scripts. Both
// absolute and relative links on document pages frequently omit one of
// these segments.
const (
	principalDir = "/siped/agrega_plantilla/"
	adjuntoDir   = "/siped/expediente/buscar/"
)

var (
	metaURLRe    = regexp.MustCompile(`(?i)url=(.*)`)
	nextInicioRe = regexp.MustCompile(`document\.form\.inicio\.value=(\d+)`)
	depIdeRe     = regexp.MustCompile(`dependencia_ide\s*=\s*(\d+)`)
	tjFueroRe    = regexp.MustCompile(`tj_fuero\s*=\s*(\d+)`)
	orgOrigenRe  = regexp.MustCompile(`exp_organismo_origen\s*=\s*(\d+)`)
)

// Parser extracts structured data out of the portal's server-rendered
// HTML. All methods follow the soft-failure contract: missing structure
// yields an empty result, never an error, with a warning logged so origin
// drift stays observable.
type Parser struct {
	baseURL string
	logger  arbor.ILogger
}

// NewParser creates a parser bound to the portal origin
func NewParser(baseURL string, logger arbor.ILogger) *Parser {
	return &Parser{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (p *Parser) document(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to parse HTML document")
		return nil
	}
	return doc
}

// MetaRefreshURL extracts the target of a client-side meta refresh.
// Relative targets are resolved against basePath; root-relative ones
// against the portal origin.
func (p *Parser) MetaRefreshURL(html, basePath string) string {
	doc := p.document(html)
	if doc == nil {
		return ""
	}

	var target string
	doc.Find("meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		m := metaURLRe.FindStringSubmatch(content)
		if m == nil {
			return true
		}
		target = strings.Trim(strings.TrimSpace(m[1]), `'"`)
		return false
	})

	switch {
	case target == "":
		return ""
	case strings.HasPrefix(target, "/"):
		return p.baseURL + target
	case !strings.HasPrefix(target, "http"):
		return basePath + "/" + target
	}
	return target
}

// TokenLink extracts the tokenized anchor into the siped sub-application
func (p *Parser) TokenLink(html string) string {
	doc := p.document(html)
	if doc == nil {
		return ""
	}

	var target string
	doc.Find("a[href]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !strings.Contains(href, "/siped?token=") {
			return true
		}
		target = href
		return false
	})

	switch {
	case target == "":
		return ""
	case strings.HasPrefix(target, "/"):
		return p.baseURL + target
	case !strings.HasPrefix(target, "http"):
		return p.baseURL + "/" + target
	}
	return target
}

// ParseExpedienteList parses one page of the case-search results table.
// listURL is used to resolve each row's relative detail link.
func (p *Parser) ParseExpedienteList(html, listURL string) []*models.Expediente {
	doc := p.document(html)
	if doc == nil {
		return nil
	}

	table := doc.Find("table.table-striped").First()
	if table.Length() == 0 {
		p.logger.Warn().Msg("Expediente list table not found in page")
		return nil
	}

	base, err := url.Parse(listURL)
	if err != nil {
		base = nil
	}

	var expedientes []*models.Expediente
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return // header row
		}
		cols := row.Find("td")
		if cols.Length() != 8 {
			return
		}

		linkDetalle := ""
		if href, ok := cols.Eq(0).Find("a").First().Attr("href"); ok && base != nil {
			if ref, err := url.Parse(href); err == nil {
				linkDetalle = base.ResolveReference(ref).String()
			}
		}

		expedientes = append(expedientes, &models.Expediente{
			Nro:         cellText(cols.Eq(0)),
			LinkDetalle: linkDetalle,
			Caratula:    cellText(cols.Eq(1)),
			Partes:      cellText(cols.Eq(2)),
			Estado:      cellText(cols.Eq(3)),
			FecUltMov:   cellText(cols.Eq(4)),
			Localidad:   cellText(cols.Eq(5)),
			Dependencia: cellText(cols.Eq(6)),
			Secretaria:  cellText(cols.Eq(7)),
		})
	})
	return expedientes
}

// NextPageOffset finds the SIGUIENTE control's embedded offset value.
// The second return is false on the last page.
func (p *Parser) NextPageOffset(html string) (int, bool) {
	doc := p.document(html)
	if doc == nil {
		return 0, false
	}

	offset := 0
	found := false
	doc.Find("button").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "SIGUIENTE") {
			return true
		}
		onclick, _ := s.Attr("onclick")
		m := nextInicioRe.FindStringSubmatch(onclick)
		if m == nil {
			return true
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			offset = n
			found = true
			return false
		}
		return true
	})
	return offset, found
}

// FrameSrc resolves the named frame's src against the frameset URL
func (p *Parser) FrameSrc(html, name, framesetURL string) string {
	doc := p.document(html)
	if doc == nil {
		return ""
	}

	src, ok := doc.Find("frame[name='" + name + "']").First().Attr("src")
	if !ok || src == "" {
		p.logger.Warn().Str("frame", name).Msg("Frame not found in frameset document")
		return ""
	}

	base, err := url.Parse(framesetURL)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

// AjaxParams extracts the dynamic identifiers the movement AJAX endpoint
// requires: three numeric ids from inline scripts plus the hidden form id.
func (p *Parser) AjaxParams(html string) map[string]string {
	doc := p.document(html)
	if doc == nil {
		return nil
	}

	params := map[string]string{}

	if id, ok := doc.Find("input[name='id']").First().Attr("value"); ok {
		params["exp_id"] = id
		params["id_cd"] = id
	}

	doc.Find("script").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := s.Text()
		if text == "" {
			return true
		}
		if m := depIdeRe.FindStringSubmatch(text); m != nil {
			params["dependencia_ide"] = m[1]
		}
		if m := tjFueroRe.FindStringSubmatch(text); m != nil {
			params["tj_fuero"] = m[1]
		}
		if m := orgOrigenRe.FindStringSubmatch(text); m != nil {
			params["exp_organismo_origen"] = m[1]
		}
		_, hasDep := params["dependencia_ide"]
		_, hasFuero := params["tj_fuero"]
		_, hasOrigen := params["exp_organismo_origen"]
		return !(hasDep && hasFuero && hasOrigen)
	})

	return params
}

// ParseMovimientos parses the movement table returned by the AJAX
// endpoint. Document links are resolved against ajaxURL at parse time.
func (p *Parser) ParseMovimientos(html, expedienteNro, ajaxURL string) []*models.Movimiento {
	doc := p.document(html)
	if doc == nil {
		return nil
	}

	table := doc.Find("table.table-hover").First()
	if table.Length() == 0 {
		return nil
	}

	base, err := url.Parse(ajaxURL)
	if err != nil {
		base = nil
	}

	var movimientos []*models.Movimiento
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cols := row.Find("td")
		if cols.Length() < 9 {
			return
		}

		linkEscrito := ""
		if action, ok := cols.Eq(1).Find("form").First().Attr("action"); ok && base != nil {
			if ref, err := url.Parse(action); err == nil {
				linkEscrito = base.ResolveReference(ref).String()
			}
		}

		descripcion, _ := cols.Eq(6).Find("font").First().Attr("title")

		movimientos = append(movimientos, &models.Movimiento{
			ExpedienteNro:     expedienteNro,
			NombreEscrito:     cellText(cols.Eq(1)),
			LinkEscrito:       linkEscrito,
			FechaPresentacion: cellText(cols.Eq(2)),
			Tipo:              cellText(cols.Eq(3)),
			Estado:            cellText(cols.Eq(4)),
			GeneradoPor:       cellText(cols.Eq(5)),
			Descripcion:       strings.TrimSpace(descripcion),
			FechaFirma:        cellText(cols.Eq(7)),
			FechaPublicacion:  cellText(cols.Eq(8)),
		})
	})
	return movimientos
}

// ParseDocumento extracts the structured content of a document page.
// Extraction is multi-source with fallbacks; missing pieces stay empty.
func (p *Parser) ParseDocumento(html string) *models.Documento {
	doc := p.document(html)
	if doc == nil {
		return nil
	}

	documento := &models.Documento{
		// The portal renders the providencia text inside the PDF itself;
		// the page body only links to it.
		TextoProvidencia: "Se prioriza descarga de PDF.",
	}

	// Case number: title block first, metadata table as fallback
	if titulo := strings.TrimSpace(doc.Find("div.titulo h2").First().Text()); titulo != "" {
		documento.ExpedienteNro = stripLabel(titulo, "Expediente:")
	}
	if documento.ExpedienteNro == "" {
		fallback := strings.TrimSpace(doc.Find("table.tabla_borsua strong.Estilo1").First().Text())
		documento.ExpedienteNro = stripLabel(fallback, "Expediente:")
		if documento.ExpedienteNro != "" {
			p.logger.Warn().Msg("Expediente number read from metadata table fallback")
		}
	}

	// Caption: any strong cell labelled Caratula (accent varies)
	doc.Find("table.tabla_borsua strong").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.Contains(text, "ratula:") {
			return true
		}
		if idx := strings.Index(text, ":"); idx >= 0 {
			documento.Caratula = strings.TrimSpace(text[idx+1:])
		}
		return false
	})

	// Main document: the primary download button
	doc.Find("a.btn-primary").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), "Descargar archivo PDF") {
			return true
		}
		if href, ok := s.Attr("href"); ok {
			documento.URLPDFPrincipal = p.NormalizePDFURL(href, PDFPrincipal)
		}
		return false
	})
	if documento.URLPDFPrincipal == "" {
		p.logger.Warn().Msg("Document page has no main PDF download button")
	}

	// Attachments: styled warning cells, deduplicated by normalized URL
	seen := map[string]bool{}
	doc.Find("td.alert-warning a").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		normalized := p.NormalizePDFURL(href, PDFAdjunto)
		if seen[normalized] {
			return
		}
		seen[normalized] = true
		documento.Adjuntos = append(documento.Adjuntos, models.Adjunto{
			Nombre: strings.TrimSpace(s.Text()),
			URL:    normalized,
		})
	})

	documento.Firmantes = p.parseFirmantes(doc)

	return documento
}

// parseFirmantes reads the signer rows that follow a "Cargo" header cell
func (p *Parser) parseFirmantes(doc *goquery.Document) []models.Firmante {
	var firmantes []models.Firmante

	doc.Find("table").EachWithBreak(func(i int, table *goquery.Selection) bool {
		header := false
		table.Find("tr").Each(func(j int, row *goquery.Selection) {
			cols := row.Find("td")
			if !header {
				if cols.Length() >= 1 && strings.TrimSpace(cols.Eq(0).Text()) == "Cargo" {
					header = true
				}
				return
			}
			if cols.Length() < 3 {
				return
			}
			firmantes = append(firmantes, models.Firmante{
				Cargo:  cellText(cols.Eq(0)),
				Nombre: cellText(cols.Eq(1)),
				Fecha:  cellText(cols.Eq(2)),
			})
		})
		return !header
	})

	return firmantes
}

// NormalizePDFURL rewrites the portal's frequently malformed document
// links to the one canonical path shape per link type. Well-formed URLs
// pass through unchanged, so applying it twice equals applying it once.
func (p *Parser) NormalizePDFURL(raw string, kind PDFKind) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		p.logger.Warn().Str("url", raw).Msg("Unparseable document URL left as-is")
		return raw
	}

	canonicalDir := principalDir
	if kind == PDFAdjunto {
		canonicalDir = adjuntoDir
	}

	if u.IsAbs() && strings.HasPrefix(u.Path, canonicalDir) {
		return raw
	}

	origin := p.baseURL
	if u.IsAbs() {
		origin = u.Scheme + "://" + u.Host
	}

	rebuilt := origin + canonicalDir + path.Base(u.Path)
	if u.RawQuery != "" {
		rebuilt += "?" + u.RawQuery
	}
	return rebuilt
}

func cellText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func stripLabel(text, label string) string {
	return strings.TrimSpace(strings.TrimPrefix(text, label))
}
