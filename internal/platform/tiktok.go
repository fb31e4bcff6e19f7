package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/publora/publora/internal/models"
	"github.com/publora/publora/internal/transfer"
)

const tiktokOpenAPIURL = "https://open.tiktokapis.com/v2"

type TiktokAdapter struct {
	client *http.Client
}

func NewTiktokAdapter() *TiktokAdapter {
	return &TiktokAdapter{client: http.DefaultClient}
}

func (a *TiktokAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	switch req.Variant {
	case models.VariantFeed, models.VariantReel:
	default:
		return "", PermanentError("tiktok does not support variant %q", req.Variant)
	}

	if len(req.Media) == 0 {
		return "", PermanentError("no media attached for tiktok post")
	}

	if req.Media[0].Kind == models.MediaKindVideo {
		return a.publishVideo(ctx, creds, req)
	}
	return a.publishPhotos(ctx, creds, req)
}

func (a *TiktokAdapter) publishVideo(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	payload := transfer.TiktokVideoUploadRequest{
		PostInfo: transfer.TiktokVideoPostInfo{
			Title:                 req.Caption,
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.TiktokVideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: req.Media[0].URI,
		},
	}

	return a.initPost(ctx, creds, tiktokOpenAPIURL+"/post/publish/video/init/", payload)
}

func (a *TiktokAdapter) publishPhotos(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	photos := make([]string, 0, len(req.Media))
	for _, media := range req.Media {
		photos = append(photos, media.URI)
	}

	payload := transfer.TiktokPhotoUploadRequest{
		PostInfo: transfer.TiktokPhotoPostInfo{
			Title:        req.Caption,
			PrivacyLevel: "PUBLIC_TO_EVERYONE",
			AutoAddMusic: true,
		},
		SourceInfo: transfer.TiktokPhotoSourceInfo{
			Source:          "PULL_FROM_URL",
			PhotoCoverIndex: 1,
			PhotoImages:     photos,
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}

	return a.initPost(ctx, creds, tiktokOpenAPIURL+"/post/publish/content/init/", payload)
}

func (a *TiktokAdapter) initPost(ctx context.Context, creds Credentials, url string, payload any) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", PermanentError("error marshalling payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", PermanentError("error creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", TransientError("tiktok request error: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", TransientError("error reading tiktok response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, string(respBody))
	}

	var result transfer.TiktokUploadResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", PermanentError("error parsing tiktok response: %v", err)
	}
	if result.Error.Code != "" && result.Error.Code != "ok" {
		return "", PermanentError("tiktok rejected post: %s", result.Error.Message)
	}
	if result.Data.PublishID == "" {
		return "", PermanentError("no publish id returned from tiktok")
	}

	return result.Data.PublishID, nil
}

// FetchPublishedMedia reports the publish status of a post. TikTok's
// pull-from-url flow does not expose final media URLs, so only the
// external id comes back.
func (a *TiktokAdapter) FetchPublishedMedia(ctx context.Context, creds Credentials, externalID string) ([]PublishedMedia, error) {
	payload := map[string]string{"publish_id": externalID}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, PermanentError("error marshalling payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", tiktokOpenAPIURL+"/post/publish/status/fetch/", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, PermanentError("error creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, TransientError("tiktok request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	return []PublishedMedia{{ExternalMediaID: externalID, Kind: models.MediaKindVideo}}, nil
}

// AddComment is not available through TikTok's content posting API.
func (a *TiktokAdapter) AddComment(ctx context.Context, creds Credentials, externalID, text string) error {
	return PermanentError("tiktok does not support comments via api")
}
