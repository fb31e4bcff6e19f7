package job

import (
	"context"
	"log/slog"
	"time"

	cfg "github.com/publora/publora/configs"
	"github.com/publora/publora/internal/queue"
	"github.com/publora/publora/internal/repository"
)

// DeliverySweepJob is the safety net under the wake-up tasks. On every
// tick it returns stale claims (a worker that died mid-delivery) to the
// pending pool and then drains whatever is due, so a lost wake-up task
// delays a post by at most one sweep interval.
type DeliverySweepJob struct {
	config *cfg.Config
	sq     repository.ScheduleQueueRepository
	q      *queue.Queue
}

func NewDeliverySweepJob(config *cfg.Config, sq repository.ScheduleQueueRepository, q *queue.Queue) *DeliverySweepJob {
	return &DeliverySweepJob{
		config: config,
		sq:     sq,
		q:      q,
	}
}

func (j *DeliverySweepJob) Sweep() {
	ctx := context.Background()

	staleAfter := time.Duration(j.config.Queue.StaleClaimMinutes) * time.Minute
	recovered, err := j.sq.RecoverStuck(ctx, staleAfter)
	if err != nil {
		slog.Info(err.Error())
	} else if recovered > 0 {
		slog.Info("recovered stale delivery claims", "count", recovered)
	}

	due, err := j.sq.CountDue(ctx)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if due == 0 {
		return
	}

	if err := j.q.Drain(ctx); err != nil {
		slog.Info(err.Error())
	}
}
