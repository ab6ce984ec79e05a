package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/tidwall/gjson"

	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
)

// ErrNoLocation is returned when no lookup around the point produced a name.
var ErrNoLocation = errors.New("no location name found")

// offsets (degrees) tried in order when a lookup fails; open sea often has no
// result at zoom 6 while the nearby shore does.
var offsets = []orb.Point{
	{0, 0},
	{0.1, 0}, {-0.1, 0}, {0, 0.1}, {0, -0.1},
	{0.25, 0.25}, {-0.25, -0.25}, {0.25, -0.25}, {-0.25, 0.25},
}

// Client reverse-geocodes points through a Nominatim instance.
type Client struct {
	endpoint    string
	referer     string
	userAgent   string
	maxAttempts int
	http        *http.Client
	logger      *slog.Logger
}

var _ ports.Geocoder = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, referer, userAgent string, maxAttempts int, log *slog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		referer:     referer,
		userAgent:   userAgent,
		maxAttempts: maxAttempts,
		http:        &http.Client{Timeout: 10 * time.Second},
		logger:      log,
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// LocationName returns the display name of point, retrying with slightly
// shifted coordinates when a lookup yields nothing.
func (c *Client) LocationName(ctx context.Context, point orb.Point) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		off := offsets[attempt%len(offsets)]
		nearby := orb.Point{point.Lon() + off.Lon(), point.Lat() + off.Lat()}

		name, err := c.reverse(ctx, nearby)
		if err == nil && name != "" {
			return name, nil
		}
		if err == nil {
			err = ErrNoLocation
		}
		lastErr = err
		c.logger.Debug("reverse geocoding failed", "attempt", attempt+1, "lon", nearby.Lon(), "lat", nearby.Lat(), "error", err)
	}
	return "", fmt.Errorf("%w after %d attempt(s): %v", ErrNoLocation, c.maxAttempts, lastErr)
}

func (c *Client) reverse(ctx context.Context, point orb.Point) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(point.Lat(), 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(point.Lon(), 'f', -1, 64))
	q.Set("addressdetails", "0")
	q.Set("format", "json")
	q.Set("zoom", "6")
	q.Set("extratags", "0")

	body, err := c.get(ctx, "/reverse", q)
	if err != nil {
		return "", err
	}

	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return "", fmt.Errorf("nominatim: %s", msg.String())
	}
	return strings.TrimSpace(gjson.GetBytes(body, "display_name").String()), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode response: invalid json")
	}
	return body, nil
}
