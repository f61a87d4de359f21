// Package media compresses captured photos and renders thumbnails.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/TheMichaelB/fieldsync/internal/models"
)

// Output formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Options bounds a compression pass. Zero fields take the defaults.
type Options struct {
	MaxWidth  int     `json:"max_width"`
	MaxHeight int     `json:"max_height"`
	Quality   float64 `json:"quality"` // 0-1
	Format    string  `json:"format"`
}

var (
	// DefaultOptions is the full-photo budget.
	DefaultOptions = Options{MaxWidth: 1920, MaxHeight: 1920, Quality: 0.8, Format: FormatJPEG}

	// ThumbnailOptions is the thumbnail budget.
	ThumbnailOptions = Options{MaxWidth: 200, MaxHeight: 200, Quality: 0.6, Format: FormatJPEG}
)

// Merge fills the zero fields of o from defaults.
func (o Options) Merge(defaults Options) Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = defaults.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = defaults.MaxHeight
	}
	if o.Quality <= 0 {
		o.Quality = defaults.Quality
	}
	if o.Quality > 1 {
		o.Quality = 1
	}
	if o.Format == "" {
		o.Format = defaults.Format
	}
	o.Format = strings.ToLower(o.Format)
	if o.Format == "jpg" {
		o.Format = FormatJPEG
	}
	return o
}

// Result is an encoded image.
type Result struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// Compress decodes input, scales it down to fit the budget and re-encodes it.
func Compress(ctx context.Context, input []byte, opts Options) (*Result, error) {
	opts = opts.Merge(DefaultOptions)

	format, contentType, err := encoding(opts.Format)
	if err != nil {
		return nil, &models.CodecError{Op: "encode", Format: opts.Format, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &models.CodecError{Op: "decode", Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), opts.MaxWidth, opts.MaxHeight)
	if width != bounds.Dx() || height != bounds.Dy() {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	if format == imaging.JPEG {
		// JPEG has no alpha; flatten onto white instead of black.
		img = imaging.Overlay(imaging.New(width, height, color.White), img, image.Pt(0, 0), 1.0)
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	var encodeOpts []imaging.EncodeOption
	if format == imaging.JPEG {
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(jpegQuality(opts.Quality)))
	}
	if err := imaging.Encode(buf, img, format, encodeOpts...); err != nil {
		return nil, &models.CodecError{Op: "encode", Format: opts.Format, Err: err}
	}

	return &Result{
		Data:        append([]byte(nil), buf.Bytes()...),
		Width:       width,
		Height:      height,
		ContentType: contentType,
	}, nil
}

// CreateThumbnail is Compress with the thumbnail budget.
func CreateThumbnail(ctx context.Context, input []byte) (*Result, error) {
	return Compress(ctx, input, ThumbnailOptions)
}

// Dimensions reports the displayed pixel size, the size Compress works
// with. JPEGs are decoded so their EXIF orientation applies; other formats
// are read from the header alone.
func Dimensions(input []byte) (width, height int, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return 0, 0, &models.CodecError{Op: "decode", Err: err}
	}
	if format != "jpeg" {
		return cfg.Width, cfg.Height, nil
	}

	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, &models.CodecError{Op: "decode", Err: err}
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

// FitWithin scales width×height down, never up, to fit inside maxWidth×maxHeight
// preserving the aspect ratio. Neither side drops below one pixel.
func FitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func jpegQuality(q float64) int {
	quality := int(math.Round(q * 100))
	if quality < 1 {
		return 1
	}
	if quality > 100 {
		return 100
	}
	return quality
}

func encoding(format string) (imaging.Format, string, error) {
	switch format {
	case FormatJPEG:
		return imaging.JPEG, "image/jpeg", nil
	case FormatPNG:
		return imaging.PNG, "image/png", nil
	default:
		return 0, "", fmt.Errorf("unsupported output format %q", format)
	}
}
