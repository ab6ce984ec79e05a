package cdse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/gjson"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/retry"
)

const (
	searchPath      = "/resto/api/collections/Sentinel2/search.json"
	dateLayout      = "2006-01-02T15:04:05.000Z"
	maxResponseSize = 32 << 20
)

// Query narrows a catalog search to one tile and a time window.
type Query struct {
	TileID        string
	Start         time.Time
	End           time.Time
	MaxCloudCover float64
	ProductType   string
}

// Catalog queries the Copernicus Data Space OpenSearch endpoint.
type Catalog struct {
	endpoint  string
	client    *http.Client
	pageSize  int
	pageLimit int
	policy    retry.Policy
	logger    *slog.Logger
}

// NewCatalog wires an HTTP client; pageSize defaults to 50.
func NewCatalog(endpoint string, client *http.Client, policy retry.Policy, log *slog.Logger) *Catalog {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
		pageSize: 50,
		policy:   policy,
		logger:   log,
	}
}

// WithPaging overrides page size and the maximum number of pages per query.
func (c *Catalog) WithPaging(pageSize, pageLimit int) *Catalog {
	if pageSize > 0 {
		c.pageSize = pageSize
	}
	c.pageLimit = pageLimit
	return c
}

// Search walks through result pages and returns every candidate found.
func (c *Catalog) Search(ctx context.Context, q Query) ([]domain.Candidate, error) {
	if q.TileID == "" {
		return nil, fmt.Errorf("catalog search: tile id is required")
	}

	results := make([]domain.Candidate, 0)
	seen := map[string]struct{}{}

	for page := 1; c.pageLimit <= 0 || page <= c.pageLimit; page++ {
		pageURL, err := c.buildSearchURL(q, page)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", q.TileID, err)
		}

		var body []byte
		err = retry.Do(ctx, c.policy, c.logger, "catalog search", func(ctx context.Context) error {
			var fetchErr error
			body, fetchErr = c.fetch(ctx, pageURL)
			return fetchErr
		})
		if err != nil {
			return nil, fmt.Errorf("tile %s page %d: %w", q.TileID, page, err)
		}

		features := gjson.GetBytes(body, "features").Array()
		for _, feature := range features {
			candidate, err := parseFeature(feature)
			if err != nil {
				c.logger.Debug("skip feature", "tile", q.TileID, "error", err)
				continue
			}
			if _, ok := seen[candidate.ID]; ok {
				continue
			}
			seen[candidate.ID] = struct{}{}
			results = append(results, candidate)
		}

		if len(features) < c.pageSize {
			break
		}
	}

	return results, nil
}

func (c *Catalog) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "s2coastalbot/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request catalog: %w", err)
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read catalog response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, retry.Permanent(fmt.Errorf("catalog returned invalid json"))
	}
	return body, nil
}

func (c *Catalog) buildSearchURL(q Query, page int) (string, error) {
	parsed, err := url.Parse(c.endpoint + searchPath)
	if err != nil {
		return "", fmt.Errorf("invalid catalog endpoint %s: %w", c.endpoint, err)
	}

	query := parsed.Query()
	query.Set("tileId", domain.NormalizeTileID(q.TileID))
	query.Set("startDate", q.Start.UTC().Format(dateLayout))
	query.Set("completionDate", q.End.UTC().Format(dateLayout))
	query.Set("cloudCover", fmt.Sprintf("[0,%s]", strconv.FormatFloat(q.MaxCloudCover, 'f', -1, 64)))
	if q.ProductType != "" {
		query.Set("productType", q.ProductType)
	}
	query.Set("maxRecords", strconv.Itoa(c.pageSize))
	query.Set("page", strconv.Itoa(page))
	query.Set("sortParam", "startDate")
	query.Set("sortOrder", "descending")
	query.Set("status", "ONLINE")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func parseFeature(feature gjson.Result) (domain.Candidate, error) {
	props := feature.Get("properties")

	title := props.Get("title").String()
	if title == "" {
		return domain.Candidate{}, fmt.Errorf("feature %s has no title", feature.Get("id").String())
	}

	tile, sensed, err := domain.ParseProductName(title)
	if err != nil {
		return domain.Candidate{}, err
	}

	if start := props.Get("startDate").String(); start != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, start); err == nil {
			sensed = parsed.UTC()
		}
	}

	cloud := props.Get("cloudCover")
	if !cloud.Exists() {
		return domain.Candidate{}, fmt.Errorf("product %s has no cloud cover", title)
	}

	candidate := domain.Candidate{
		ID:          domain.ProductID(title),
		CatalogID:   feature.Get("id").String(),
		TileID:      tile,
		AcquiredAt:  sensed,
		CloudCover:  cloud.Float(),
		PreviewURL:  props.Get("thumbnail").String(),
		DownloadURL: props.Get("services.download.url").String(),
	}

	if raw := feature.Get("geometry"); raw.Exists() && raw.Type != gjson.Null {
		if geom, err := geojson.UnmarshalGeometry([]byte(raw.Raw)); err == nil {
			candidate.Footprint = geom.Geometry()
		}
	}

	if candidate.PreviewURL == "" {
		return domain.Candidate{}, fmt.Errorf("product %s has no preview", title)
	}

	return candidate, nil
}
