package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// ErrInvalidDimensions is returned when a pixel buffer does not match the
// declared frame dimensions.
var ErrInvalidDimensions = errors.New("pixel buffer does not match frame dimensions")

// DefaultJPEGQuality is used when the caller passes a quality outside 1-100.
const DefaultJPEGQuality = 90

// EncodeJPEG compresses a raw BGRA pixel buffer into JPEG bytes. The buffer
// must hold exactly width*height*4 bytes; alpha is discarded.
func EncodeJPEG(bgra []byte, width uint32, height uint32, quality int) ([]byte, error) {
	expected := int(width) * int(height) * 4
	if expected == 0 || len(bgra) != expected {
		return nil, ErrInvalidDimensions
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	for i := 0; i+3 < expected; i += 4 {
		img.Pix[i] = bgra[i+2]
		img.Pix[i+1] = bgra[i+1]
		img.Pix[i+2] = bgra[i]
		img.Pix[i+3] = 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
