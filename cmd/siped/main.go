package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marianodevel/siped/internal/app"
	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/models"
	"github.com/marianodevel/siped/internal/portal"
)

var (
	configFile  = flag.String("config", "", "Configuration file path")
	phaseName   = flag.String("phase", "", "Phase to run: lista | movimientos | documentos | unico")
	expediente  = flag.String("expediente", "", "Case number (required for -phase unico)")
	userID      = flag.String("user", "", "User whose storage root receives the output")
	usuario     = flag.String("usuario", "", "Portal login (defaults to SIPED_USUARIO)")
	clave       = flag.String("clave", "", "Portal password (defaults to SIPED_CLAVE)")
	workerMode  = flag.Bool("worker", false, "Run the worker pool and scheduler in the foreground")
	showVersion = flag.Bool("version", false, "Print version information")
)

// phaseAliases maps the CLI-facing phase names to internal names
var phaseAliases = map[string]string{
	"lista":       models.PhaseLista,
	"movimientos": models.PhaseMovimientos,
	"documentos":  models.PhaseDocumentos,
	"unico":       models.PhaseUnico,
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Siped version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Load config (defaults -> file -> env), then logger, then banner
	path := *configFile
	if path == "" {
		if _, err := os.Stat("siped.toml"); err == nil {
			path = "siped.toml"
		}
	}
	config, err := common.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if *workerMode {
		runWorker(application)
		return
	}
	runPhase(application)
}

// runPhase logs in, submits the requested phase and polls it to a
// terminal state with an in-process worker
func runPhase(application *app.App) {
	logger := application.Logger

	phase, ok := phaseAliases[*phaseName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown phase %q (want lista, movimientos, documentos or unico)\n", *phaseName)
		os.Exit(1)
	}
	if phase == models.PhaseUnico && *expediente == "" {
		fmt.Fprintln(os.Stderr, "-phase unico requires -expediente")
		os.Exit(1)
	}

	creds := portal.Credentials{Usuario: *usuario, Clave: *clave}
	if creds.Usuario == "" {
		creds.Usuario = os.Getenv("SIPED_USUARIO")
	}
	if creds.Clave == "" {
		creds.Clave = os.Getenv("SIPED_CLAVE")
	}
	if creds.Usuario == "" || creds.Clave == "" {
		fmt.Fprintln(os.Stderr, "Provide credentials via -usuario/-clave or SIPED_USUARIO/SIPED_CLAVE")
		os.Exit(1)
	}

	ctx := context.Background()

	cookies, err := application.Authenticator.Login(ctx, creds)
	if err != nil {
		logger.Fatal().Err(err).Msg("Login failed")
		os.Exit(1)
	}
	logger.Info().Str("usuario", creds.Usuario).Msg("Authenticated")

	application.WorkerPool.Start()

	if _, err := application.Orchestrator.Submit(ctx, phase, *userID, *expediente, cookies); err != nil {
		logger.Fatal().Err(err).Str("phase", phase).Msg("Submit failed")
		os.Exit(1)
	}

	status := pollToTerminal(ctx, application, phase, *userID)
	fmt.Printf("[%s] %s\n", status.State, status.Result)
	if status.State != models.JobStateSuccess {
		os.Exit(1)
	}
}

// pollToTerminal polls until the job reaches a terminal state
func pollToTerminal(ctx context.Context, application *app.App, phase, user string) *models.JobStatus {
	for {
		time.Sleep(application.Config.Queue.PollInterval)

		status, err := application.Orchestrator.Poll(ctx, phase, user)
		if err != nil {
			application.Logger.Warn().Err(err).Msg("Poll failed")
			continue
		}
		if status.State.IsTerminal() {
			return status
		}
		application.Logger.Debug().Str("state", string(status.State)).Str("result", status.Result).Msg("Waiting")
	}
}

// runWorker keeps the pool and scheduler in the foreground until a signal
func runWorker(application *app.App) {
	logger := application.Logger

	if err := application.Scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
		os.Exit(1)
	}
	application.WorkerPool.Start()

	logger.Info().Msg("Worker mode running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")
}
