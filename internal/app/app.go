package app

import (
	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/jobs"
	"github.com/marianodevel/siped/internal/portal"
	"github.com/marianodevel/siped/internal/services/pdf"
	"github.com/marianodevel/siped/internal/services/phases"
	"github.com/marianodevel/siped/internal/services/scheduler"
	badgerstore "github.com/marianodevel/siped/internal/storage/badger"
	"github.com/marianodevel/siped/internal/storage/files"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB           *badgerstore.BadgerDB
	JobStorage   *badgerstore.JobStorage
	QueueStorage *badgerstore.QueueStorage

	Store         *files.Store
	Runner        *phases.Runner
	Authenticator *portal.Authenticator
	Orchestrator  *jobs.Orchestrator
	WorkerPool    *jobs.WorkerPool
	Scheduler     *scheduler.Service
}

// New wires every component in dependency order
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	jobStorage := badgerstore.NewJobStorage(db, logger)
	queueStorage := badgerstore.NewQueueStorage(db, config.Queue, logger)

	store := files.NewStore(config.Storage.DataRoot, logger)
	runner := phases.NewRunner(config, store, pdf.NewConsolidator(logger), pdf.NewIndiceWriter(logger), logger)

	return &App{
		Config:        config,
		Logger:        logger,
		DB:            db,
		JobStorage:    jobStorage,
		QueueStorage:  queueStorage,
		Store:         store,
		Runner:        runner,
		Authenticator: portal.NewAuthenticator(config.Portal, logger),
		Orchestrator:  jobs.NewOrchestrator(jobStorage, queueStorage, logger),
		WorkerPool:    jobs.NewWorkerPool(config.Queue, queueStorage, jobStorage, runner, logger),
		Scheduler:     scheduler.NewService(config.Jobs, db, jobStorage, queueStorage, logger),
	}, nil
}

// Close releases the application's resources
func (a *App) Close() error {
	a.WorkerPool.Stop()
	a.Scheduler.Stop()
	return a.DB.Close()
}
