package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

const (
	upscaleFactor = 2
	canvasPadding = 8
)

// Preprocess enhances a captcha image for OCR.
//
// Steps:
//  1. Decode (JPEG or PNG) and convert to grayscale
//  2. Upscale 2x with Catmull-Rom resampling
//  3. Stretch contrast to the full 0..255 range
//  4. Binarize around the midpoint of the stretched range
//  5. Draw onto a padded white canvas and encode as PNG
func Preprocess(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode captcha image: %w", err)
	}

	b := src.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, src, b.Min, draw.Src)

	scaled := image.NewGray(image.Rect(0, 0, b.Dx()*upscaleFactor, b.Dy()*upscaleFactor))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), gray, b, draw.Src, nil)

	stretchContrast(scaled)
	threshold(scaled, 128)

	w, h := scaled.Bounds().Dx(), scaled.Bounds().Dy()
	dc := gg.NewContext(w+2*canvasPadding, h+2*canvasPadding)
	dc.SetColor(color.White)
	dc.Clear()
	dc.DrawImage(scaled, canvasPadding, canvasPadding)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode captcha image: %w", err)
	}
	return buf.Bytes(), nil
}

func stretchContrast(img *image.Gray) {
	lo, hi := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi <= lo {
		return
	}
	span := int(hi) - int(lo)
	for i, p := range img.Pix {
		img.Pix[i] = uint8((int(p) - int(lo)) * 255 / span)
	}
}

func threshold(img *image.Gray, level uint8) {
	for i, p := range img.Pix {
		if p < level {
			img.Pix[i] = 0
		} else {
			img.Pix[i] = 255
		}
	}
}

// Preprocessed wraps a strategy and enhances images before delegating.
// Images that fail to decode are passed through unchanged.
type Preprocessed struct {
	Inner  Strategy
	logger *zap.Logger
}

func (p *Preprocessed) Name() string { return p.Inner.Name() + "+prep" }

func (p *Preprocessed) Solve(ctx context.Context, img []byte) (string, error) {
	enhanced, err := Preprocess(img)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("  ⚠️ Preprocessing skipped", zap.Error(err))
		}
		return p.Inner.Solve(ctx, img)
	}
	return p.Inner.Solve(ctx, enhanced)
}
