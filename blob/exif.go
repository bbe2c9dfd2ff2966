package blob

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
)

// orientationDegrees returns the clockwise rotation that uprights an image
// according to its EXIF Orientation tag, or 0 when there is none. Mirrored
// orientations are reduced to their rotation component.
func orientationDegrees(data []byte) int {
	switch exifOrientation(data) {
	case 3, 4:
		return 180
	case 5, 6:
		return 90
	case 7, 8:
		return 270
	}
	return 0
}

func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 0
	}
	return v
}
