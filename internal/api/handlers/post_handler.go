package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/publora/publora/internal/queue"
	"github.com/publora/publora/internal/service"
	"github.com/publora/publora/internal/transfer"
)

type PostHandler struct {
	s           service.PostService
	AsynqClient *asynq.Client
}

func NewPostHandler(service service.PostService, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: service, AsynqClient: asynqClient}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse form",
		})
	}

	pc := &transfer.PostCreation{
		Caption:      c.FormValue("caption"),
		Title:        c.FormValue("title"),
		FirstComment: c.FormValue("first_comment"),
		Tags:         c.FormValue("tags"),
		ScheduledAt:  c.FormValue("scheduled_at"),
		Destinations: c.FormValue("destinations"),
		SessionID:    c.FormValue("session_id"),
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no files selected",
		})
	}

	created, err := h.s.CreatePost(c.Context(), companyID, pc, files)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if created.Immediate {
		// The overall flag is false only when every destination failed;
		// a partial failure still counts as success, and the caller reads
		// the per-destination results for the detail.
		success := false
		for _, r := range created.Results {
			if r.Success {
				success = true
				break
			}
		}
		status := fiber.StatusOK
		message := "post published"
		if !success {
			status = fiber.StatusBadGateway
			message = "post failed on all destinations"
		}
		return c.Status(status).JSON(fiber.Map{
			"success": success,
			"message": message,
			"results": created.Results,
		})
	}

	for _, detail := range created.Details {
		payload := queue.DeliveryWakePayload{PostDetailID: detail.ID}
		if err := queue.EnqueueWake(h.AsynqClient, payload, created.Delay); err != nil {
			// The sweep job will deliver the post anyway; report the
			// schedule as accepted.
			slog.Info(err.Error())
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "post scheduled successfully",
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	postID := c.QueryInt("id", 0)

	if postID != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postID), companyID)
		if err != nil {
			return c.Status(errorStatus(err)).JSON(fiber.Map{
				"error": "unable to get post",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), companyID)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	postID := c.QueryInt("id", 0)

	err := h.s.Cancel(c.Context(), companyID, int64(postID))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	postID := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), companyID, int64(postID))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *PostHandler) ListHistory(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)

	history, err := h.s.History(c.Context(), companyID)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "unable to list delivery history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(history)
}
