package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"context"

	"github.com/publora/publora/internal/models"
)

const instagramGraphURL = "https://graph.instagram.com/v21.0"

type InstagramAdapter struct {
	client *http.Client
}

func NewInstagramAdapter() *InstagramAdapter {
	return &InstagramAdapter{client: http.DefaultClient}
}

func (a *InstagramAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	switch req.Variant {
	case models.VariantFeed:
		if len(req.Media) > 1 {
			return a.publishCarousel(ctx, creds, req)
		}
		return a.publishSingle(ctx, creds, req, "")
	case models.VariantCarousel:
		return a.publishCarousel(ctx, creds, req)
	case models.VariantReel:
		return a.publishSingle(ctx, creds, req, "REELS")
	case models.VariantStory:
		return a.publishSingle(ctx, creds, req, "STORIES")
	default:
		return "", PermanentError("instagram does not support variant %q", req.Variant)
	}
}

func (a *InstagramAdapter) publishSingle(ctx context.Context, creds Credentials, req PublishRequest, mediaType string) (string, error) {
	if len(req.Media) == 0 {
		return "", PermanentError("no media attached for instagram post")
	}

	payload := map[string]any{
		"caption":      req.Caption,
		"access_token": creds.AccessToken,
	}
	media := req.Media[0]
	if media.Kind == models.MediaKindVideo {
		payload["video_url"] = media.URI
		if mediaType == "" {
			mediaType = "REELS"
		}
	} else {
		payload["image_url"] = media.URI
	}
	if mediaType != "" {
		payload["media_type"] = mediaType
	}

	containerID, err := a.createContainer(ctx, creds.AccountID, payload)
	if err != nil {
		return "", err
	}

	return a.publishContainer(ctx, creds, containerID)
}

func (a *InstagramAdapter) publishCarousel(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	if len(req.Media) == 0 {
		return "", PermanentError("no media attached for instagram carousel")
	}

	containerIDs := make([]string, 0, len(req.Media))
	for _, media := range req.Media {
		payload := map[string]any{
			"is_carousel_item": true,
			"access_token":     creds.AccessToken,
		}
		if media.Kind == models.MediaKindVideo {
			payload["video_url"] = media.URI
			payload["media_type"] = "VIDEO"
		} else {
			payload["image_url"] = media.URI
		}

		containerID, err := a.createContainer(ctx, creds.AccountID, payload)
		if err != nil {
			return "", err
		}
		containerIDs = append(containerIDs, containerID)
	}

	payload := map[string]any{
		"media_type":   "CAROUSEL",
		"caption":      req.Caption,
		"children":     containerIDs,
		"access_token": creds.AccessToken,
	}
	containerID, err := a.createContainer(ctx, creds.AccountID, payload)
	if err != nil {
		return "", err
	}

	return a.publishContainer(ctx, creds, containerID)
}

func (a *InstagramAdapter) createContainer(ctx context.Context, accountID string, payload map[string]any) (string, error) {
	url := fmt.Sprintf("%s/%s/media", instagramGraphURL, accountID)

	var result struct {
		ID string `json:"id"`
	}
	if err := a.postJSON(ctx, url, payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", PermanentError("no media container id returned from instagram")
	}
	return result.ID, nil
}

func (a *InstagramAdapter) publishContainer(ctx context.Context, creds Credentials, containerID string) (string, error) {
	url := fmt.Sprintf("%s/%s/media_publish", instagramGraphURL, creds.AccountID)
	payload := map[string]any{
		"creation_id":  containerID,
		"access_token": creds.AccessToken,
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := a.postJSON(ctx, url, payload, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", PermanentError("no media id returned from instagram publish")
	}
	return result.ID, nil
}

func (a *InstagramAdapter) FetchPublishedMedia(ctx context.Context, creds Credentials, externalID string) ([]PublishedMedia, error) {
	url := fmt.Sprintf("%s/%s?fields=id,media_type,media_url,children{id,media_type,media_url}&access_token=%s",
		instagramGraphURL, externalID, creds.AccessToken)

	var result struct {
		ID       string `json:"id"`
		MediaURL string `json:"media_url"`
		Type     string `json:"media_type"`
		Children struct {
			Data []struct {
				ID       string `json:"id"`
				MediaURL string `json:"media_url"`
				Type     string `json:"media_type"`
			} `json:"data"`
		} `json:"children"`
	}
	if err := a.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}

	if len(result.Children.Data) > 0 {
		media := make([]PublishedMedia, 0, len(result.Children.Data))
		for _, child := range result.Children.Data {
			media = append(media, PublishedMedia{
				URI:             child.MediaURL,
				Kind:            kindFromInstagramType(child.Type),
				ExternalMediaID: child.ID,
			})
		}
		return media, nil
	}

	return []PublishedMedia{{
		URI:             result.MediaURL,
		Kind:            kindFromInstagramType(result.Type),
		ExternalMediaID: result.ID,
	}}, nil
}

func (a *InstagramAdapter) AddComment(ctx context.Context, creds Credentials, externalID, text string) error {
	url := fmt.Sprintf("%s/%s/comments", instagramGraphURL, externalID)
	payload := map[string]any{
		"message":      text,
		"access_token": creds.AccessToken,
	}

	var result struct {
		ID string `json:"id"`
	}
	return a.postJSON(ctx, url, payload, &result)
}

func (a *InstagramAdapter) postJSON(ctx context.Context, url string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return PermanentError("error marshalling payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return PermanentError("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return a.do(req, out)
}

func (a *InstagramAdapter) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return PermanentError("error creating request: %v", err)
	}
	return a.do(req, out)
}

func (a *InstagramAdapter) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return TransientError("instagram request error: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TransientError("error reading instagram response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return PermanentError("error parsing instagram response: %v", err)
	}
	return nil
}

func kindFromInstagramType(mediaType string) string {
	if mediaType == "VIDEO" {
		return models.MediaKindVideo
	}
	return models.MediaKindImage
}
