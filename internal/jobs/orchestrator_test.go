package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/marianodevel/siped/internal/common"
	"github.com/marianodevel/siped/internal/models"
	"github.com/marianodevel/siped/internal/portal"
	badgerstore "github.com/marianodevel/siped/internal/storage/badger"
)

func newTestStorages(t *testing.T) (*badgerstore.JobStorage, *badgerstore.QueueStorage) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()

	db, err := badgerstore.NewBadgerDB(arbor.NewLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queueCfg := common.QueueConfig{
		PollInterval:      5 * time.Millisecond,
		Concurrency:       1,
		VisibilityTimeout: time.Minute,
		MaxReceive:        3,
	}
	return badgerstore.NewJobStorage(db, arbor.NewLogger()),
		badgerstore.NewQueueStorage(db, queueCfg, arbor.NewLogger())
}

var testCookies = portal.CookieSet{"PHPSESSID": "sess-1"}

func TestSubmitRefusesLiveJob(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())
	ctx := context.Background()

	_, err := o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	require.NoError(t, err)

	_, err = o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	assert.ErrorIs(t, err, ErrJobInProgress)

	// Another phase for the same user, and the same phase for another
	// user, are both independent pairs
	_, err = o.Submit(ctx, models.PhaseMovimientos, "mperez", "", testCookies)
	assert.NoError(t, err)
	_, err = o.Submit(ctx, models.PhaseLista, "jlopez", "", testCookies)
	assert.NoError(t, err)
}

func TestSubmitUnknownPhase(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())

	_, err := o.Submit(context.Background(), "fase_inexistente", "mperez", "", testCookies)
	assert.Error(t, err)
}

func TestPollLifecycle(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())
	ctx := context.Background()

	// No record reads as IDLE
	status, err := o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateIdle, status.State)

	_, err = o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	require.NoError(t, err)

	status, err = o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, status.State)
	assert.Equal(t, "En cola...", status.Result)

	require.NoError(t, jobsStore.UpdateState(ctx, models.PhaseLista, "mperez", models.JobStateStarted, ""))
	status, err = o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateStarted, status.State)
	assert.Equal(t, "Procesando...", status.Result)

	// A terminal state is handed over exactly once
	require.NoError(t, jobsStore.UpdateState(ctx, models.PhaseLista, "mperez", models.JobStateSuccess, "Listo: 7 expedientes"))
	status, err = o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSuccess, status.State)
	assert.Equal(t, "Listo: 7 expedientes", status.Result)

	status, err = o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateIdle, status.State)
}

func TestResetUnblocksPair(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())
	ctx := context.Background()

	_, err := o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	require.NoError(t, err)
	require.NoError(t, o.Reset(ctx, models.PhaseLista, "mperez"))

	_, err = o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	assert.NoError(t, err)
}

// stubRunner records Run calls and returns a canned outcome
type stubRunner struct {
	calls   int
	lastPh  string
	summary string
	err     error
}

func (s *stubRunner) Run(ctx context.Context, phase, userID, expedienteNro string, cookies portal.CookieSet) (string, error) {
	s.calls++
	s.lastPh = phase
	return s.summary, s.err
}

func TestWorkerProcessesTaskToSuccess(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())
	ctx := context.Background()

	runner := &stubRunner{summary: "Lista de expedientes guardada. Total: 3"}
	queueCfg := common.QueueConfig{PollInterval: 5 * time.Millisecond, Concurrency: 1, VisibilityTimeout: time.Minute, MaxReceive: 3}
	pool := NewWorkerPool(queueCfg, queue, jobsStore, runner, arbor.NewLogger())

	_, err := o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	require.NoError(t, err)

	task, err := queue.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "sess-1", task.Cookies["PHPSESSID"], "session cookies travel with the task")

	pool.processTask(0, task)

	assert.Equal(t, 1, runner.calls)
	status, err := o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSuccess, status.State)
	assert.Equal(t, runner.summary, status.Result)

	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "completed task leaves the queue")
}

func TestWorkerRecordsFailure(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())
	ctx := context.Background()

	runner := &stubRunner{err: fmt.Errorf("no se encontró el archivo maestro")}
	queueCfg := common.QueueConfig{PollInterval: 5 * time.Millisecond, Concurrency: 1, VisibilityTimeout: time.Minute, MaxReceive: 3}
	pool := NewWorkerPool(queueCfg, queue, jobsStore, runner, arbor.NewLogger())

	_, err := o.Submit(ctx, models.PhaseMovimientos, "mperez", "", testCookies)
	require.NoError(t, err)

	task, err := queue.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	pool.processTask(0, task)

	status, err := o.Poll(ctx, models.PhaseMovimientos, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailure, status.State)
	assert.Contains(t, status.Result, "archivo maestro")
}

func TestRevokedTaskIsDroppedWithoutRunning(t *testing.T) {
	jobsStore, queue := newTestStorages(t)
	o := NewOrchestrator(jobsStore, queue, arbor.NewLogger())
	ctx := context.Background()

	runner := &stubRunner{summary: "no debería ejecutarse"}
	queueCfg := common.QueueConfig{PollInterval: 5 * time.Millisecond, Concurrency: 1, VisibilityTimeout: time.Minute, MaxReceive: 3}
	pool := NewWorkerPool(queueCfg, queue, jobsStore, runner, arbor.NewLogger())

	_, err := o.Submit(ctx, models.PhaseLista, "mperez", "", testCookies)
	require.NoError(t, err)
	require.NoError(t, o.Revoke(ctx, models.PhaseLista, "mperez"))

	task, err := queue.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	pool.processTask(0, task)

	assert.Zero(t, runner.calls, "revoked work must not run")

	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The REVOKED record is still pollable once
	status, err := o.Poll(ctx, models.PhaseLista, "mperez")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRevoked, status.State)
}
