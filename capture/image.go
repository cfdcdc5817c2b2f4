package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// DefaultJPEGQuality is the encoding quality for snapshots sent to the peer.
const DefaultJPEGQuality = 70

// FitJPEG decodes a JPEG snapshot and, when it exceeds maxWidth x maxHeight,
// downscales it preserving aspect ratio and re-encodes it. Snapshots that
// already fit are returned unchanged.
func FitJPEG(data []byte, maxWidth, maxHeight, quality int) (out []byte, width, height int, err error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	b := src.Bounds()
	w, h := fitDimensions(b.Dx(), b.Dy(), maxWidth, maxHeight)
	if w == b.Dx() && h == b.Dy() {
		return data, w, h, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// Snapshots go out once per second; bilinear keeps the cost low.
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return buf.Bytes(), w, h, nil
}

// fitDimensions scales w x h down to fit inside maxW x maxH. Zero limits are ignored.
func fitDimensions(w, h, maxW, maxH int) (int, int) {
	if maxW > 0 && w > maxW {
		h = int(float64(h) * float64(maxW) / float64(w))
		w = maxW
	}
	if maxH > 0 && h > maxH {
		w = int(float64(w) * float64(maxH) / float64(h))
		h = maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
