package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestThumbnailScalesDown(t *testing.T) {
	thumb, err := Thumbnail(pngBytes(t, 600, 400), ThumbnailWidth)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	thumb, err := Thumbnail(pngBytes(t, 100, 50), ThumbnailWidth)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
}

func TestContentType(t *testing.T) {
	ct, err := ContentType(pngBytes(t, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = ContentType([]byte("plain text"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Thumbnail([]byte("not an image"), ThumbnailWidth)
	assert.Error(t, err)
}
