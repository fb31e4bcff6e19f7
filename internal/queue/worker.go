package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/publora/publora/internal/models"
)

func (q *Queue) HandleDeliveryWakeTask(ctx context.Context, task *asynq.Task) error {
	return q.Drain(ctx)
}

// Drain claims and delivers due entries in batches until nothing due is
// left. Each batch is delivered sequentially: entries for the same
// account often land in one batch, and posting to an account one at a
// time keeps a single worker from bursting into a platform's rate
// limit. Parallelism comes from running more workers, each claiming its
// own batch.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		entries, err := q.sq.ClaimBatch(ctx, q.workerID, q.config.Queue.BatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		for _, entry := range entries {
			q.deliver(ctx, entry)
		}
	}
}

// deliver publishes one claimed entry and settles its queue state from
// the publish result: terminal results finish the entry, a retryable
// failure unlocks it for a later claim.
func (q *Queue) deliver(ctx context.Context, entry *models.ScheduleEntry) {
	detail, err := q.pd.GetByID(ctx, entry.PostDetailID)
	if err != nil {
		if uerr := q.sq.Unlock(ctx, entry.ID); uerr != nil {
			slog.Info(uerr.Error())
		}
		return
	}
	if detail == nil {
		// The post was hard-deleted after the entry was claimed.
		if err := q.sq.MarkFailed(ctx, entry.ID); err != nil {
			slog.Info(err.Error())
		}
		return
	}

	result := q.publisher.Publish(ctx, detail, "")

	switch {
	case result.Success || result.Skipped:
		if err := q.sq.MarkDone(ctx, entry.ID); err != nil {
			slog.Info(err.Error())
		}
	case result.Terminal:
		if err := q.sq.MarkFailed(ctx, entry.ID); err != nil {
			slog.Info(err.Error())
		}
	default:
		if err := q.sq.Unlock(ctx, entry.ID); err != nil {
			slog.Info(err.Error())
		}
	}

	if result.ErrorMessage != "" {
		slog.Info("delivery finished with error",
			"post_detail_id", entry.PostDetailID,
			"terminal", result.Terminal,
			"error", result.ErrorMessage)
	}
}
