package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-mastodon"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
)

// Mastodon publishes pictures as toots.
type Mastodon struct {
	client     *mastodon.Client
	visibility string
	logger     *slog.Logger
}

var _ ports.Publisher = (*Mastodon)(nil)

// NewMastodon registers server URL and access token. A nil httpClient gets a
// 30s timeout.
func NewMastodon(server, token, visibility string, httpClient *http.Client, log *slog.Logger) *Mastodon {
	client := mastodon.NewClient(&mastodon.Config{
		Server:      server,
		AccessToken: token,
	})
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	client.Client = *httpClient
	client.UserAgent = "s2coastalbot/1.0"

	if visibility == "" {
		visibility = "public"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mastodon{client: client, visibility: visibility, logger: log}
}

// Platform implements ports.Publisher.
func (m *Mastodon) Platform() domain.Platform {
	return domain.PlatformMastodon
}

// Publish uploads the picture then posts the caption referencing it.
func (m *Mastodon) Publish(ctx context.Context, post domain.Post) (domain.PostResult, error) {
	if m.client == nil || m.client.Config.Server == "" || m.client.Config.AccessToken == "" {
		return domain.PostResult{}, retry.Permanent(fmt.Errorf("mastodon publisher misconfigured"))
	}

	f, err := os.Open(post.ImagePath)
	if err != nil {
		return domain.PostResult{}, retry.Permanent(fmt.Errorf("open picture: %w", err))
	}
	defer f.Close()

	attachment, err := m.client.UploadMediaFromMedia(ctx, &mastodon.Media{
		File:        f,
		Description: post.AltText,
	})
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("upload media: %w", apiStatus(err))
	}
	m.logger.Debug("media uploaded", "platform", m.Platform(), "media_id", attachment.ID)

	status, err := m.client.PostStatus(ctx, &mastodon.Toot{
		Status:     post.Caption,
		MediaIDs:   []mastodon.ID{attachment.ID},
		Visibility: m.visibility,
	})
	if err != nil {
		return domain.PostResult{}, fmt.Errorf("post status: %w", apiStatus(err))
	}

	return domain.PostResult{ID: string(status.ID), URL: status.URL}, nil
}

// apiStatus exposes the HTTP status of a Mastodon API error to the retry
// classifier.
func apiStatus(err error) error {
	var apiErr *mastodon.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode == 0 {
		return err
	}
	return &retry.StatusError{
		Code:   apiErr.StatusCode,
		Status: fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode)),
		Body:   apiErr.Message,
	}
}
