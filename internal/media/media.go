// Package media checks uploaded product images and builds their thumbnails.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/disintegration/imaging"
)

const ThumbnailWidth = 300

var ErrUnsupported = errors.New("media: unsupported image type")

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// ContentType sniffs data and reports whether it is an accepted image.
func ContentType(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	if !imageTypes[contentType] {
		return contentType, ErrUnsupported
	}
	return contentType, nil
}

// Thumbnail decodes an image and returns a JPEG scaled to width, keeping
// the aspect ratio.
func Thumbnail(data []byte, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("media: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
