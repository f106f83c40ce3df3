package phases

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/models"
	"github.com/marianodevel/siped/internal/portal"
	"github.com/marianodevel/siped/internal/services/pdf"
	"github.com/marianodevel/siped/internal/storage/files"
)

var sessionCookies = portal.CookieSet{"PHPSESSID": "sess-1"}

// fakePortal serves one case list page, one case's full movement chain
// and the movement's document page plus its PDF, counting hits per
// endpoint
type fakePortal struct {
	mux      *http.ServeMux
	pdfBytes []byte
	listHits int
	ajaxHits int
	docHits  int
	pdfHits  int
}

func newFakePortal(t *testing.T) (*fakePortal, *httptest.Server) {
	t.Helper()
	p := &fakePortal{mux: http.NewServeMux()}
	srv := httptest.NewServer(p.mux)
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	providencia := fpdf.New("P", "mm", "A4", "")
	providencia.AddPage()
	providencia.SetFont("Arial", "", 12)
	providencia.Cell(40, 10, "PROVIDENCIA")
	require.NoError(t, providencia.Output(&buf))
	p.pdfBytes = buf.Bytes()

	p.mux.HandleFunc("/siped/expediente/lista.php", func(w http.ResponseWriter, r *http.Request) {
		p.listHits++
		fmt.Fprintf(w, `<table class="table table-striped">
		<tr><th>Exp</th><th>Car</th><th>Par</th><th>Est</th><th>Fec</th><th>Loc</th><th>Dep</th><th>Sec</th></tr>
		<tr>
		<td><a href="marco.php?id=900">123/2023</a></td>
		<td>PEREZ C/ GOMEZ</td><td>PEREZ</td><td>En tramite</td>
		<td>01/08/2026</td><td>Rio Gallegos</td><td>Juzgado</td><td>Secretaria</td>
		</tr></table>`)
	})

	p.mux.HandleFunc("/siped/expediente/marco.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<frameset><frame name="sup" src="detalle.php?id=900"></frameset>`)
	})
	p.mux.HandleFunc("/siped/expediente/detalle.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form><input type="hidden" name="id" value="900"></form>
		<script>var dependencia_ide = 7; var tj_fuero = 2; var exp_organismo_origen = 5;</script>`)
	})
	p.mux.HandleFunc("/siped/expediente/ajax_listar.php", func(w http.ResponseWriter, r *http.Request) {
		p.ajaxHits++
		if r.URL.Query().Get("offset") != "0" {
			fmt.Fprint(w, "<br>")
			return
		}
		fmt.Fprint(w, `<table class="table table-hover">
		<tr><th>#</th><th>Escrito</th><th>P</th><th>T</th><th>E</th><th>G</th><th>D</th><th>F</th><th>Pub</th></tr>
		<tr>
		<td>1</td><td><form action="ver.php?id=55"></form>PROVIDENCIA</td>
		<td>02/08/2026</td><td>Providencia</td><td>Firmado</td><td>JUZGADO</td>
		<td><font title="traslado">t</font></td><td>03/08/2026</td><td>04/08/2026</td>
		</tr></table>`)
	})

	p.mux.HandleFunc("/siped/expediente/ver.php", func(w http.ResponseWriter, r *http.Request) {
		p.docHits++
		fmt.Fprint(w, `<div class="titulo"><h2>Expediente: 123/2023</h2></div>
		<a class="btn-primary" href="/siped/agrega_plantilla/pdfabogado.php?id=55">Descargar archivo PDF</a>`)
	})
	p.mux.HandleFunc("/siped/agrega_plantilla/pdfabogado.php", func(w http.ResponseWriter, r *http.Request) {
		p.pdfHits++
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(p.pdfBytes)
	})

	return p, srv
}

func newTestRunner(t *testing.T, baseURL string) (*Runner, *files.Store) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Portal.BaseURL = baseURL
	cfg.Portal.ListPath = "/siped/expediente/lista.php"
	cfg.Portal.AjaxPath = "/siped/expediente/ajax_listar.php"
	cfg.Portal.RequestTimeout = 5 * time.Second
	cfg.Scraper.RequestDelay = 0
	cfg.Scraper.DownloadDelay = 0
	cfg.Storage.DataRoot = t.TempDir()

	logger := arbor.NewLogger()
	store := files.NewStore(cfg.Storage.DataRoot, logger)
	runner := NewRunner(cfg, store, pdf.NewConsolidator(logger), pdf.NewIndiceWriter(logger), logger)
	return runner, store
}

func TestRunListaWritesMaster(t *testing.T) {
	_, srv := newFakePortal(t)
	runner, store := newTestRunner(t, srv.URL)
	ctx := context.Background()

	summary, err := runner.RunLista(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	assert.Contains(t, summary, "Total: 1")

	userRoot, err := store.RootFor("mperez")
	require.NoError(t, err)
	expedientes, err := store.ReadExpedientes(store.MasterCSVPath(userRoot))
	require.NoError(t, err)
	require.Len(t, expedientes, 1)
	assert.Equal(t, "123/2023", expedientes[0].Nro)
	assert.Equal(t, srv.URL+"/siped/expediente/marco.php?id=900", expedientes[0].LinkDetalle)
}

func TestRunMovimientosIsIdempotent(t *testing.T) {
	fake, srv := newFakePortal(t)
	runner, store := newTestRunner(t, srv.URL)
	ctx := context.Background()

	_, err := runner.RunLista(ctx, "mperez", sessionCookies)
	require.NoError(t, err)

	summary, err := runner.RunMovimientos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	assert.Contains(t, summary, "nuevos: 1")

	firstRunHits := fake.ajaxHits
	assert.Greater(t, firstRunHits, 0)

	userRoot, err := store.RootFor("mperez")
	require.NoError(t, err)
	assert.Len(t, store.ListMovimientoCSVs(userRoot), 1)

	// Second run finds every case materialized and fetches nothing
	summary, err = runner.RunMovimientos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	assert.Contains(t, summary, "existentes: 1")
	assert.Equal(t, firstRunHits, fake.ajaxHits, "no network work on re-run")
}

func TestRunMovimientosRequiresMaster(t *testing.T) {
	_, srv := newFakePortal(t)
	runner, _ := newTestRunner(t, srv.URL)

	_, err := runner.RunMovimientos(context.Background(), "mperez", sessionCookies)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fase 1")
}

func TestRunDocumentosDownloadsAndConsolidates(t *testing.T) {
	fake, srv := newFakePortal(t)
	runner, store := newTestRunner(t, srv.URL)
	ctx := context.Background()

	_, err := runner.RunLista(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	_, err = runner.RunMovimientos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)

	summary, err := runner.RunDocumentos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	assert.Contains(t, summary, "descargas nuevas: 1")
	assert.Contains(t, summary, "consolidados generados: 1")
	assert.Equal(t, 1, fake.docHits)
	assert.Equal(t, 1, fake.pdfHits)

	userRoot, err := store.RootFor("mperez")
	require.NoError(t, err)
	exp := &models.Expediente{Nro: "123/2023", Caratula: "PEREZ C/ GOMEZ"}
	caseDir := store.CaseFolderPath(userRoot, exp)
	assert.True(t, store.Exists(filepath.Join(caseDir, files.PrincipalPDFName(1))))
	assert.True(t, store.Exists(store.ConsolidadoPath(userRoot, exp)))

	// A second run finds every file in place and touches nothing
	summary, err = runner.RunDocumentos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	assert.Contains(t, summary, "descargas nuevas: 0")
	assert.Contains(t, summary, "consolidados generados: 0")
	assert.Equal(t, 1, fake.docHits)
	assert.Equal(t, 1, fake.pdfHits)
}

func TestRunDocumentosRetriesMissingDownloads(t *testing.T) {
	fake, srv := newFakePortal(t)
	runner, store := newTestRunner(t, srv.URL)
	ctx := context.Background()

	_, err := runner.RunLista(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	_, err = runner.RunMovimientos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	ajaxBefore := fake.ajaxHits

	// A consolidated PDF from an earlier run whose numbered download
	// failed: the file still has to be fetched, only the merge is done
	userRoot, err := store.RootFor("mperez")
	require.NoError(t, err)
	exp := &models.Expediente{Nro: "123/2023", Caratula: "PEREZ C/ GOMEZ"}
	consolidado := store.ConsolidadoPath(userRoot, exp)
	require.NoError(t, os.MkdirAll(store.CaseFolderPath(userRoot, exp), 0755))
	require.NoError(t, os.WriteFile(consolidado, []byte("pdf"), 0644))

	summary, err := runner.RunDocumentos(ctx, "mperez", sessionCookies)
	require.NoError(t, err)
	assert.Contains(t, summary, "descargas nuevas: 1")
	assert.Contains(t, summary, "consolidados generados: 0")
	assert.Equal(t, 1, fake.pdfHits, "missing numbered PDF fetched despite consolidated output")
	assert.Equal(t, ajaxBefore, fake.ajaxHits, "movement CSV already cached")

	caseDir := store.CaseFolderPath(userRoot, exp)
	assert.True(t, store.Exists(filepath.Join(caseDir, files.PrincipalPDFName(1))))

	stale, err := os.ReadFile(consolidado)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), stale, "existing consolidated PDF left untouched")
}

func TestRunUnicoUnknownCase(t *testing.T) {
	_, srv := newFakePortal(t)
	runner, _ := newTestRunner(t, srv.URL)
	ctx := context.Background()

	_, err := runner.RunLista(ctx, "mperez", sessionCookies)
	require.NoError(t, err)

	_, err = runner.RunUnico(ctx, "mperez", "999/1999", sessionCookies)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "999/1999")
}

func TestRunDispatch(t *testing.T) {
	_, srv := newFakePortal(t)
	runner, _ := newTestRunner(t, srv.URL)

	_, err := runner.Run(context.Background(), "fase_desconocida", "mperez", "", sessionCookies)
	assert.Error(t, err)
}
