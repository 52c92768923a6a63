package queue

import (
	"context"
	"fmt"
	"os"

	"github.com/modelearth/codechat/internal/chunker"
	"github.com/modelearth/codechat/internal/ingest"
	"github.com/modelearth/codechat/internal/observability"
)

// Worker consumes ingestion jobs and drives the ingester or the sync
// driver. One worker processes one job at a time; concurrency comes from
// running multiple workers, serialized per repository by the RepoLocker.
type Worker struct {
	queue    Queue
	locker   RepoLocker
	cloner   *ingest.Cloner
	ingester *ingest.Ingester
	sync     *ingest.SyncDriver
	logger   *observability.Logger
	metrics  *observability.MetricsCollector
}

// NewWorker wires a worker.
func NewWorker(
	q Queue,
	locker RepoLocker,
	cloner *ingest.Cloner,
	ingester *ingest.Ingester,
	syncDriver *ingest.SyncDriver,
	logger *observability.Logger,
	metrics *observability.MetricsCollector,
) *Worker {
	return &Worker{
		queue:    q,
		locker:   locker,
		cloner:   cloner,
		ingester: ingester,
		sync:     syncDriver,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run consumes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}

		jobCtx := context.WithValue(ctx, observability.JobIDKey, delivery.Job.ID)
		jobCtx = context.WithValue(jobCtx, observability.RepositoryKey, delivery.Job.Repository)

		if err := w.process(jobCtx, delivery.Job); err != nil {
			w.logger.ErrorContext(jobCtx, "job failed",
				"attempt", delivery.Job.Attempt, "error", err)
			if w.metrics != nil {
				w.metrics.QueueJobsTotal.WithLabelValues("failed").Inc()
			}
			if nackErr := w.queue.Nack(ctx, delivery); nackErr != nil {
				w.logger.ErrorContext(jobCtx, "nack failed", "error", nackErr)
			}
			continue
		}

		if err := w.queue.Ack(ctx, delivery); err != nil {
			// The job succeeded; a redelivery is harmless thanks to
			// idempotent IDs and pre-delete.
			w.logger.WarnContext(jobCtx, "ack failed", "error", err)
		}
		if w.metrics != nil {
			w.metrics.QueueJobsTotal.WithLabelValues("ok").Inc()
		}
	}
}

// process runs one job under the repository writer lock.
func (w *Worker) process(ctx context.Context, job Job) error {
	release, err := w.locker.AcquireRepoLock(ctx, job.Repository)
	if err != nil {
		return fmt.Errorf("acquire repository lock: %w", err)
	}
	defer release()

	namespace := job.Namespace
	if namespace == "" {
		namespace = defaultNamespace(job.Repository)
	}

	if job.FromSHA == "" || zeroSHA(job.FromSHA) {
		// First push to the branch: no prior commit to diff against.
		return w.ingester.Run(ctx, job.Repository, job.CommitSHA, namespace)
	}
	return w.incremental(ctx, job, namespace)
}

// incremental clones at the target commit, computes the A/M/D plan against
// the previous commit, and applies it.
func (w *Worker) incremental(ctx context.Context, job Job, namespace string) error {
	dir, _, err := w.cloner.Clone(ctx, job.Repository, job.CommitSHA)
	if err != nil {
		return fmt.Errorf("clone for sync: %w", err)
	}
	defer os.RemoveAll(dir)

	plan, err := w.sync.ComputePlan(ctx, dir, job.FromSHA, job.CommitSHA)
	if err != nil {
		return fmt.Errorf("compute plan: %w", err)
	}

	repo := chunker.RepoContext{
		Repository: job.Repository,
		Ref:        job.CommitSHA,
		Namespace:  namespace,
	}
	return w.sync.Apply(ctx, repo, dir, plan)
}

// zeroSHA reports the all-zeros placeholder git sends for branch creation.
func zeroSHA(s string) bool {
	for _, r := range s {
		if r != '0' {
			return false
		}
	}
	return s != ""
}

func defaultNamespace(repository string) string {
	for i := len(repository) - 1; i >= 0; i-- {
		if repository[i] == '/' {
			return repository[i+1:]
		}
	}
	return repository
}
