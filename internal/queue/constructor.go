package queue

import (
	"log/slog"

	cfg "github.com/publora/publora/configs"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/publora/publora/internal/repository"
	"github.com/publora/publora/internal/service"
)

// Queue drains due schedule entries and drives each one through the
// publish service. Entries are claimed in Postgres, so any number of
// Queue instances can run against the same database without delivering
// a post twice.
type Queue struct {
	config    *cfg.Config
	workerID  string
	sq        repository.ScheduleQueueRepository
	pd        repository.PostDetailRepository
	publisher service.PublishService
}

func NewQueue(
	config *cfg.Config,
	sq repository.ScheduleQueueRepository,
	pd repository.PostDetailRepository,
	publisher service.PublishService) *Queue {
	workerID, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		workerID = "worker"
	}
	return &Queue{
		config:    config,
		workerID:  workerID,
		sq:        sq,
		pd:        pd,
		publisher: publisher,
	}
}

const TaskTypeDeliveryWake = "delivery:wake"

type DeliveryWakePayload struct {
	PostDetailID int64 `json:"post_detail_id"`
}
