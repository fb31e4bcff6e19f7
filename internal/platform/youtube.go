package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/publora/publora/internal/models"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type YoutubeAdapter struct {
	client *http.Client
}

func NewYoutubeAdapter() *YoutubeAdapter {
	return &YoutubeAdapter{client: http.DefaultClient}
}

func (a *YoutubeAdapter) Publish(ctx context.Context, creds Credentials, req PublishRequest) (string, error) {
	switch req.Variant {
	case models.VariantFeed, models.VariantReel:
	default:
		return "", PermanentError("youtube does not support variant %q", req.Variant)
	}

	if len(req.Media) == 0 || req.Media[0].Kind != models.MediaKindVideo {
		return "", PermanentError("youtube requires a video upload")
	}

	service, err := a.newService(ctx, creds)
	if err != nil {
		return "", err
	}

	tempFile, err := a.download(ctx, req.Media[0].URI)
	if err != nil {
		return "", err
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return "", TransientError("error opening video file: %v", err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Caption,
			Tags:        req.Tags,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: "public",
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		slog.Info(err.Error())
		return "", classifyGoogleError(err)
	}

	return response.Id, nil
}

func (a *YoutubeAdapter) FetchPublishedMedia(ctx context.Context, creds Credentials, externalID string) ([]PublishedMedia, error) {
	return []PublishedMedia{{
		URI:             fmt.Sprintf("https://youtu.be/%s", externalID),
		Kind:            models.MediaKindVideo,
		ExternalMediaID: externalID,
	}}, nil
}

func (a *YoutubeAdapter) AddComment(ctx context.Context, creds Credentials, externalID, text string) error {
	service, err := a.newService(ctx, creds)
	if err != nil {
		return err
	}

	thread := &youtube.CommentThread{
		Snippet: &youtube.CommentThreadSnippet{
			VideoId: externalID,
			TopLevelComment: &youtube.Comment{
				Snippet: &youtube.CommentSnippet{TextOriginal: text},
			},
		},
	}

	_, err = service.CommentThreads.Insert([]string{"snippet"}, thread).Context(ctx).Do()
	if err != nil {
		slog.Info(err.Error())
		return classifyGoogleError(err)
	}
	return nil
}

func (a *YoutubeAdapter) newService(ctx context.Context, creds Credentials) (*youtube.Service, error) {
	token := &oauth2.Token{AccessToken: creds.AccessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		slog.Info(err.Error())
		return nil, TransientError("error creating youtube service: %v", err)
	}
	return service, nil
}

// download pulls the stored object to a temp file; the upload API needs
// a seekable reader.
func (a *YoutubeAdapter) download(ctx context.Context, uri string) (string, error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", TransientError("error creating temporary file: %v", err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, "GET", uri, nil)
	if err != nil {
		return "", PermanentError("error creating request: %v", err)
	}

	response, err := a.client.Do(req)
	if err != nil {
		return "", TransientError("error downloading video: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", TransientError("unexpected response status %d fetching media", response.StatusCode)
	}

	if _, err := io.Copy(tempFile, response.Body); err != nil {
		return "", TransientError("error saving video to temporary file: %v", err)
	}

	return tempFile.Name(), nil
}

func classifyGoogleError(err error) *AdapterError {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return classifyStatus(apiErr.Code, apiErr.Message)
	}
	return TransientError("youtube request error: %v", err)
}
