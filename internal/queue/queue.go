package queue

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueueWake arms a delayed wake-up for a scheduled post. The task
// carries no authority: it only prompts a drain, and the database claim
// decides what is actually due. A lost or duplicated task is therefore
// harmless; the periodic drain picks up anything the wake-up missed.
func EnqueueWake(asynqClient *asynq.Client, payload DeliveryWakePayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeDeliveryWake, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	slog.Info("delivery wake-up scheduled", "post_detail_id", payload.PostDetailID, "delay", delay)
	return nil
}
