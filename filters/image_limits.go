package filters

import "fmt"

const (
	// MaxImageDimension caps width/height for decoded and derived images so a
	// corrupt header cannot trigger a huge allocation.
	MaxImageDimension = 32768
	// MaxImagePixels bounds the total pixel count (roughly 64MP) which keeps
	// NRGBA buffers under 256 MB.
	MaxImagePixels int64 = 64 * 1024 * 1024
)

// ValidateBounds reports whether a width x height image may be allocated.
func ValidateBounds(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: bounds invalid (%d x %d)", ErrUnsupportedImage, width, height)
	}
	if width > MaxImageDimension || height > MaxImageDimension {
		return fmt.Errorf("%w: dimension exceeds limit (%d x %d)", ErrUnsupportedImage, width, height)
	}
	pixels := int64(width) * int64(height)
	if pixels > MaxImagePixels {
		return fmt.Errorf("%w: pixel count %d exceeds limit %d", ErrUnsupportedImage, pixels, MaxImagePixels)
	}
	return nil
}
