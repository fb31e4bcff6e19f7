package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/service"
	"github.com/publora/publora/internal/transfer"
)

type fakePostService struct {
	created *service.PostCreated
	err     error
}

func (f *fakePostService) CreatePost(ctx context.Context, companyID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*service.PostCreated, error) {
	return f.created, f.err
}

func (f *fakePostService) List(ctx context.Context, companyID int64) ([]*models.PostDetail, error) {
	return nil, nil
}

func (f *fakePostService) PostInfo(ctx context.Context, detailID, companyID int64) (*models.PostDetail, error) {
	return nil, nil
}

func (f *fakePostService) Cancel(ctx context.Context, companyID, detailID int64) error { return nil }
func (f *fakePostService) Remove(ctx context.Context, companyID, detailID int64) error { return nil }

func (f *fakePostService) History(ctx context.Context, companyID int64) ([]*models.DeliveryHistory, error) {
	return nil, nil
}

func newPostTestApp(svc service.PostService) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "1")
		c.Locals("company_id", "1")
		return c.Next()
	})
	h := NewPostHandler(svc, nil)
	app.Post("/api/posts/new", h.CreatePost)
	return app
}

func newPostForm(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("files", "photo.jpg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte("not a real jpeg"))
	w.WriteField("caption", "hello")
	w.WriteField("destinations", `[{"account_id":10}]`)
	w.Close()
	return body, w.FormDataContentType()
}

func postCreateResponse(t *testing.T, app *fiber.App) (int, map[string]any) {
	t.Helper()
	body, contentType := newPostForm(t)
	req := httptest.NewRequest("POST", "/api/posts/new", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, payload
}

func TestCreatePostAllDestinationsFailed(t *testing.T) {
	svc := &fakePostService{created: &service.PostCreated{
		Immediate: true,
		Results: []transfer.DestinationResult{
			{PostDetailID: 1, Success: false, Error: "rejected"},
			{PostDetailID: 2, Success: false, Error: "rejected"},
		},
	}}

	status, payload := postCreateResponse(t, newPostTestApp(svc))

	if status != fiber.StatusBadGateway {
		t.Fatalf("expected 502 when every destination failed, got %d", status)
	}
	if success, _ := payload["success"].(bool); success {
		t.Fatalf("success flag must be false when all destinations failed: %+v", payload)
	}
}

func TestCreatePostPartialFailureIsSuccess(t *testing.T) {
	svc := &fakePostService{created: &service.PostCreated{
		Immediate: true,
		Results: []transfer.DestinationResult{
			{PostDetailID: 1, Success: true, ExternalPostID: "ext-1"},
			{PostDetailID: 2, Success: false, Error: "rejected"},
		},
	}}

	status, payload := postCreateResponse(t, newPostTestApp(svc))

	if status != fiber.StatusOK {
		t.Fatalf("partial failure should still be a 200, got %d", status)
	}
	if success, _ := payload["success"].(bool); !success {
		t.Fatalf("success flag must be true when any destination published: %+v", payload)
	}
	results, _ := payload["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected both per-destination results in the body, got %+v", payload["results"])
	}
}
