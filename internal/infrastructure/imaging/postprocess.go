package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/image/draw"

	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/ports"
	"S2CoastalBot/internal/retry"
)

const maxPreviewSize = 64 << 20

// ErrNoUsableData means the preview cannot produce a publishable picture.
var ErrNoUsableData = domain.ErrNoUsableData

// Options drive the crop/resample/gain chain.
type Options struct {
	WorkDir           string
	OutputWidth       int
	SubsetWidth       int
	SubsetHeight      int
	Gain              float64
	MaxNodataFraction float64
}

// Processor downloads previews and writes publishable PNG files.
type Processor struct {
	client *http.Client
	opts   Options
	policy retry.Policy
	logger *slog.Logger
}

var _ ports.ImageProcessor = (*Processor)(nil)

// NewProcessor builds a Processor; a nil client gets a 60s timeout.
func NewProcessor(client *http.Client, opts Options, policy retry.Policy, log *slog.Logger) *Processor {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Gain <= 0 {
		opts.Gain = 1
	}
	return &Processor{client: client, opts: opts, policy: policy, logger: log}
}

// Process turns the candidate preview into <acquisition>_postprocessed.png.
func (p *Processor) Process(ctx context.Context, candidate domain.Candidate, center orb.Point) (domain.ProcessedImage, error) {
	if candidate.PreviewURL == "" {
		return domain.ProcessedImage{}, fmt.Errorf("%s: %w: no preview url", candidate.ID, ErrNoUsableData)
	}

	src, err := p.download(ctx, candidate.PreviewURL)
	if err != nil {
		return domain.ProcessedImage{}, fmt.Errorf("%s: %w", candidate.ID, err)
	}

	bounds := src.Bounds()
	pixel, mapped := toPixel(center, candidate.Footprint, bounds)
	rect := windowRect(pixel, p.opts.SubsetWidth, p.opts.SubsetHeight, bounds)

	if frac := nodataFraction(src, rect); frac >= 1 || frac > p.opts.MaxNodataFraction {
		p.logger.Debug("preview rejected", "acquisition", candidate.ID, "nodata_fraction", frac)
		return domain.ProcessedImage{}, fmt.Errorf("%s: %w: %.0f%% no-data", candidate.ID, ErrNoUsableData, frac*100)
	}

	out := resample(src, rect, p.opts.OutputWidth)
	applyGain(out, p.opts.Gain)

	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return domain.ProcessedImage{}, fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(p.opts.WorkDir, domain.ProductID(candidate.ID)+"_postprocessed.png")
	if err := writePNG(path, out); err != nil {
		return domain.ProcessedImage{}, err
	}

	result := domain.ProcessedImage{Path: path, Center: center}
	if mapped {
		result.Center = toLonLat(rect, candidate.Footprint.Bound(), bounds)
	}

	p.logger.Info("preview processed", "acquisition", candidate.ID, "path", path,
		"width", out.Bounds().Dx(), "height", out.Bounds().Dy())
	return result, nil
}

func (p *Processor) download(ctx context.Context, previewURL string) (image.Image, error) {
	var payload []byte
	err := retry.Do(ctx, p.policy, p.logger, "preview download", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("new request: %w", err))
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if err := retry.CheckResponse(resp); err != nil {
			return err
		}
		payload, err = io.ReadAll(io.LimitReader(resp.Body, maxPreviewSize))
		if err != nil {
			return fmt.Errorf("read preview: %w", err)
		}
		return nil
	})
	if err != nil {
		var statusErr *retry.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: preview not found", ErrNoUsableData)
		}
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: decode preview: %v", ErrNoUsableData, err)
	}
	return img, nil
}

// toPixel maps a lon/lat point to (row, col) through the footprint bounds.
// Without a usable footprint the image centre is used.
func toPixel(center orb.Point, footprint orb.Geometry, bounds image.Rectangle) ([2]int, bool) {
	middle := [2]int{bounds.Dy() / 2, bounds.Dx() / 2}
	if footprint == nil {
		return middle, false
	}
	b := footprint.Bound()
	if b.IsEmpty() || !b.Contains(center) {
		return middle, false
	}

	col := int((center.Lon() - b.Min.Lon()) / (b.Max.Lon() - b.Min.Lon()) * float64(bounds.Dx()))
	row := int((b.Max.Lat() - center.Lat()) / (b.Max.Lat() - b.Min.Lat()) * float64(bounds.Dy()))
	return [2]int{clampInt(row, 0, bounds.Dy()-1), clampInt(col, 0, bounds.Dx()-1)}, true
}

func toLonLat(rect image.Rectangle, b orb.Bound, bounds image.Rectangle) orb.Point {
	cx := float64(rect.Min.X-bounds.Min.X) + float64(rect.Dx())/2
	cy := float64(rect.Min.Y-bounds.Min.Y) + float64(rect.Dy())/2
	lon := b.Min.Lon() + cx/float64(bounds.Dx())*(b.Max.Lon()-b.Min.Lon())
	lat := b.Max.Lat() - cy/float64(bounds.Dy())*(b.Max.Lat()-b.Min.Lat())
	return orb.Point{lon, lat}
}

// nodataFraction counts pure black pixels inside rect.
func nodataFraction(img image.Image, rect image.Rectangle) float64 {
	total := rect.Dx() * rect.Dy()
	if total == 0 {
		return 1
	}
	empty := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r|g|b == 0 {
				empty++
			}
		}
	}
	return float64(empty) / float64(total)
}

func resample(src image.Image, rect image.Rectangle, width int) *image.RGBA {
	if width <= 0 {
		width = rect.Dx()
	}
	height := int(math.Round(float64(rect.Dy()) * float64(width) / float64(rect.Dx())))
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, rect, draw.Src, nil)
	return dst
}

func applyGain(img *image.RGBA, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i+c]) * gain
			if v > 255 {
				v = 255
			}
			img.Pix[i+c] = uint8(v)
		}
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
