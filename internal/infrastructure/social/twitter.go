package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dghubble/go-twitter/twitter"
	"github.com/dghubble/oauth1"
	"github.com/tidwall/gjson"

	"S2CoastalBot/internal/config"
	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
)

const (
	mediaUploadURL   = "https://upload.twitter.com/1.1/media/upload.json"
	mediaMetadataURL = "https://upload.twitter.com/1.1/media/metadata/create.json"
)

// Twitter publishes pictures through the v1.1 media and statuses endpoints.
type Twitter struct {
	httpClient *http.Client
	api        *twitter.Client
	logger     *slog.Logger
}

var _ ports.Publisher = (*Twitter)(nil)

// NewTwitter builds an OAuth1 signed client from configuration.
func NewTwitter(ctx context.Context, cfg config.TwitterConfig, log *slog.Logger) *Twitter {
	oauth := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	hc := oauth.Client(ctx, oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret))
	hc.Timeout = 30 * time.Second
	return NewTwitterWithClient(hc, log)
}

// NewTwitterWithClient uses an already authenticated HTTP client.
func NewTwitterWithClient(hc *http.Client, log *slog.Logger) *Twitter {
	if log == nil {
		log = slog.Default()
	}
	return &Twitter{httpClient: hc, api: twitter.NewClient(hc), logger: log}
}

// Platform implements ports.Publisher.
func (t *Twitter) Platform() domain.Platform {
	return domain.PlatformTwitter
}

// Publish uploads the picture, attaches the alt text and tweets the caption.
func (t *Twitter) Publish(ctx context.Context, post domain.Post) (domain.PostResult, error) {
	if t == nil || t.httpClient == nil {
		return domain.PostResult{}, retry.Permanent(fmt.Errorf("twitter publisher misconfigured"))
	}

	mediaID, err := t.upload(ctx, post.ImagePath)
	if err != nil {
		return domain.PostResult{}, err
	}

	if post.AltText != "" {
		if err := t.describe(ctx, mediaID, post.AltText); err != nil {
			t.logger.Warn("alt text rejected", "platform", t.Platform(), "error", err)
		}
	}

	// go-twitter takes no context; only the client timeout bounds this call.
	tweet, resp, err := t.api.Statuses.Update(post.Caption, &twitter.StatusUpdateParams{
		MediaIds: []int64{mediaID},
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return domain.PostResult{}, fmt.Errorf("post tweet: %w",
				&retry.StatusError{Code: resp.StatusCode, Status: resp.Status, Body: err.Error()})
		}
		return domain.PostResult{}, fmt.Errorf("post tweet: %w", err)
	}

	result := domain.PostResult{ID: tweet.IDStr}
	if result.ID == "" {
		result.ID = strconv.FormatInt(tweet.ID, 10)
	}
	if tweet.User != nil && tweet.User.ScreenName != "" {
		result.URL = fmt.Sprintf("https://twitter.com/%s/status/%s", tweet.User.ScreenName, result.ID)
	}
	return result, nil
}

func (t *Twitter) upload(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("open picture: %w", err))
	}
	defer f.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return 0, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return 0, fmt.Errorf("read picture: %w", err)
	}
	if err := form.Close(); err != nil {
		return 0, fmt.Errorf("close upload form: %w", err)
	}

	payload, err := t.do(ctx, mediaUploadURL, form.FormDataContentType(), &body)
	if err != nil {
		return 0, fmt.Errorf("upload media: %w", err)
	}

	id, err := strconv.ParseInt(gjson.GetBytes(payload, "media_id_string").String(), 10, 64)
	if err != nil || id == 0 {
		id = gjson.GetBytes(payload, "media_id").Int()
	}
	if id == 0 {
		return 0, fmt.Errorf("upload media: response has no media id")
	}
	return id, nil
}

func (t *Twitter) describe(ctx context.Context, mediaID int64, alt string) error {
	body, err := json.Marshal(map[string]any{
		"media_id": strconv.FormatInt(mediaID, 10),
		"alt_text": map[string]string{"text": alt},
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = t.do(ctx, mediaMetadataURL, "application/json", bytes.NewReader(body))
	return err
}

func (t *Twitter) do(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
