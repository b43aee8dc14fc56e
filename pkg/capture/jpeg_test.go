package capture

import (
	"bytes"
	"errors"
	"image/jpeg"
	"testing"
)

func solidBGRA(width, height int, b, g, r byte) []byte {
	buf := make([]byte, width*height*4)
	for i := 0; i < len(buf); i += 4 {
		buf[i] = b
		buf[i+1] = g
		buf[i+2] = r
		buf[i+3] = 0xff
	}
	return buf
}

func TestEncodeJPEGDimensionMismatch(t *testing.T) {
	if _, err := EncodeJPEG(make([]byte, 10), 2, 2, 90); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("error=%v, want ErrInvalidDimensions", err)
	}
	if _, err := EncodeJPEG(nil, 0, 0, 90); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("zero-size error=%v, want ErrInvalidDimensions", err)
	}
}

func TestEncodeJPEGProducesDecodableImage(t *testing.T) {
	const width, height = 8, 8
	data, err := EncodeJPEG(solidBGRA(width, height, 0, 0, 0xff), width, height, 90)
	if err != nil {
		t.Fatalf("EncodeJPEG error: %v", err)
	}
	if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
		t.Fatalf("output missing jpeg magic: % x", data[:2])
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		t.Fatalf("bounds=%v, want %dx%d", bounds, width, height)
	}

	// The source was solid red in BGRA order; the channel swap must hold.
	r, g, b, _ := img.At(4, 4).RGBA()
	if r>>8 < 200 || g>>8 > 60 || b>>8 > 60 {
		t.Fatalf("decoded pixel rgb=(%d,%d,%d), want red-dominant", r>>8, g>>8, b>>8)
	}
}
