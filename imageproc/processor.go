// Package imageproc normalizes uploaded images into bounded-size artifacts
// suitable for transport to the vision model.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Register decoders for the formats browsers commonly upload.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/medgaze/medgaze/domain"
)

// MediaType is the media type of every produced artifact. Sources are
// re-encoded regardless of their original format.
const MediaType = "image/jpeg"

// Processor re-encodes raster images to a bounded-dimension JPEG.
// It holds no state beyond its settings and touches no session state, so a
// failed run never partially commits anything.
type Processor struct {
	maxWidth int
	quality  int
}

// New creates a processor. maxWidth bounds the long edge of the output;
// quality is the JPEG quality factor (1-100).
func New(maxWidth, quality int) *Processor {
	return &Processor{maxWidth: maxWidth, quality: quality}
}

// Process decodes src, scales it so the long edge does not exceed maxWidth
// (aspect ratio preserved; images already within bounds are not upscaled)
// and re-encodes it as JPEG.
func (p *Processor) Process(src []byte) (*domain.Artifact, error) {
	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, domain.Wrap(domain.KindImageProcessing, "image could not be decoded", err)
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, domain.E(domain.KindImageProcessing, "image has no pixels")
	}

	longEdge := srcW
	if srcH > longEdge {
		longEdge = srcH
	}

	dstW, dstH := srcW, srcH
	if longEdge > p.maxWidth {
		scale := float64(p.maxWidth) / float64(longEdge)
		dstW = int(float64(srcW)*scale + 0.5)
		dstH = int(float64(srcH)*scale + 0.5)
		if dstW < 1 {
			dstW = 1
		}
		if dstH < 1 {
			dstH = 1
		}
	}

	if dstW != srcW || dstH != srcH {
		scaled := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, domain.Wrap(domain.KindImageProcessing,
			fmt.Sprintf("re-encoding %s image failed", format), err)
	}
	if buf.Len() == 0 {
		return nil, domain.E(domain.KindImageProcessing, "encoding produced no data")
	}

	return &domain.Artifact{
		Data:      buf.Bytes(),
		MediaType: MediaType,
		Width:     dstW,
		Height:    dstH,
	}, nil
}
