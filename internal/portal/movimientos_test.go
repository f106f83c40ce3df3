package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/models"
)

func movimientoRow(nombre string) string {
	return fmt.Sprintf(`<tr>
	<td>1</td>
	<td><form action="ver_providencia.php?id=%s"></form>%s</td>
	<td>02/08/2026</td><td>Providencia</td><td>Firmado</td>
	<td>JUZGADO</td><td><font title="descripcion larga">desc</font></td>
	<td>03/08/2026</td><td>04/08/2026</td>
	</tr>`, nombre, nombre)
}

func movimientoPage(rows ...string) string {
	return `<table class="table table-hover">
	<tr><th>#</th><th>Escrito</th><th>Pres</th><th>Tipo</th><th>Estado</th><th>Gen</th><th>Desc</th><th>Firma</th><th>Pub</th></tr>` +
		strings.Join(rows, "") + `</table>`
}

// movimientosPortal serves the frameset -> frame -> AJAX chain for one case
func newMovimientosPortal(t *testing.T, ajaxPages map[string]string) (*httptest.Server, *int) {
	t.Helper()
	ajaxHits := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/siped/expediente/marco.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<frameset><frame name="sup" src="detalle.php?id=900"></frameset>`)
	})
	mux.HandleFunc("/siped/expediente/detalle.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form><input type="hidden" name="id" value="900"></form>
		<script>var dependencia_ide = 7; var tj_fuero = 2; var exp_organismo_origen = 5;</script>`)
	})
	mux.HandleFunc("/siped/expediente/ajax_listar.php", func(w http.ResponseWriter, r *http.Request) {
		ajaxHits++
		require.Equal(t, "900", r.URL.Query().Get("exp_id"))
		require.Equal(t, "0", r.URL.Query().Get("usuariointerno"))
		page, ok := ajaxPages[r.URL.Query().Get("offset")]
		if !ok {
			fmt.Fprint(w, "<br>")
			return
		}
		fmt.Fprint(w, page)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &ajaxHits
}

func TestScrapeMovimientosWalksAjaxPages(t *testing.T) {
	srv, ajaxHits := newMovimientosPortal(t, map[string]string{
		"0":  movimientoPage(movimientoRow("aa"), movimientoRow("bb")),
		"10": movimientoPage(movimientoRow("cc")),
		// offset 20 falls back to the tiny empty response
	})

	cfg := testPortalConfig(srv.URL)
	client, err := NewClient(cfg)
	require.NoError(t, err)
	scraper := NewScraper(client, cfg, fastScraperConfig(), arbor.NewLogger())

	exp := &models.Expediente{
		Nro:         "123/2023",
		LinkDetalle: srv.URL + "/siped/expediente/marco.php?id=900",
	}

	movimientos, err := scraper.ScrapeMovimientos(context.Background(), exp)
	require.NoError(t, err)

	assert.Equal(t, 3, *ajaxHits, "offsets 0, 10 and the terminating 20")
	require.Len(t, movimientos, 3)
	assert.Equal(t, "123/2023", movimientos[0].ExpedienteNro)
	assert.Contains(t, movimientos[0].LinkEscrito, "ver_providencia.php?id=aa")
	assert.Contains(t, movimientos[2].LinkEscrito, "ver_providencia.php?id=cc")
}

func TestScrapeMovimientosStopsOnRowlessLargeBody(t *testing.T) {
	// A body above the byte threshold but with no parseable rows must
	// still terminate the loop
	filler := `<html><body>` + strings.Repeat("<div>relleno decorativo</div>", 30) + `</body></html>`
	srv, ajaxHits := newMovimientosPortal(t, map[string]string{
		"0":  movimientoPage(movimientoRow("aa")),
		"10": filler,
	})

	cfg := testPortalConfig(srv.URL)
	client, err := NewClient(cfg)
	require.NoError(t, err)
	scraper := NewScraper(client, cfg, fastScraperConfig(), arbor.NewLogger())

	exp := &models.Expediente{Nro: "123/2023", LinkDetalle: srv.URL + "/siped/expediente/marco.php"}
	movimientos, err := scraper.ScrapeMovimientos(context.Background(), exp)
	require.NoError(t, err)

	assert.Equal(t, 2, *ajaxHits)
	assert.Len(t, movimientos, 1)
}

func TestScrapeMovimientosSoftFailures(t *testing.T) {
	t.Run("missing detail link", func(t *testing.T) {
		cfg := testPortalConfig("http://127.0.0.1:0")
		client, err := NewClient(cfg)
		require.NoError(t, err)
		scraper := NewScraper(client, cfg, fastScraperConfig(), arbor.NewLogger())

		movimientos, err := scraper.ScrapeMovimientos(context.Background(), &models.Expediente{Nro: "1/1"})
		require.NoError(t, err)
		assert.Nil(t, movimientos)
	})

	t.Run("detail page without ajax params", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/marco.php", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<frameset><frame name="sup" src="detalle.php"></frameset>`)
		})
		mux.HandleFunc("/detalle.php", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<html><body>pagina sin formulario</body></html>`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cfg := testPortalConfig(srv.URL)
		client, err := NewClient(cfg)
		require.NoError(t, err)
		scraper := NewScraper(client, cfg, fastScraperConfig(), arbor.NewLogger())

		exp := &models.Expediente{Nro: "1/1", LinkDetalle: srv.URL + "/marco.php"}
		movimientos, err := scraper.ScrapeMovimientos(context.Background(), exp)
		require.NoError(t, err)
		assert.Nil(t, movimientos)
	})
}
