package jobs

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// animatedFormats are copied unresized since a single decoded frame would
// drop the animation.
var animatedFormats = map[string]bool{
	"gif":  true,
	"webp": true,
}

type imagingThumbnailer struct{}

// NewImagingThumbnailer returns a Thumbnailer that center-crops to a square
// with a Lanczos filter and keeps the source encoding.
func NewImagingThumbnailer() Thumbnailer {
	return imagingThumbnailer{}
}

func (imagingThumbnailer) Thumbnail(src, dst string, maxSize int) error {
	config, formatName, err := probe(src)
	if err != nil {
		return err
	}
	if animatedFormats[formatName] {
		return ErrPassthrough
	}
	if config.Width <= maxSize && config.Height <= maxSize {
		return ErrPassthrough
	}

	format, err := imaging.FormatFromExtension(formatName)
	if err != nil {
		return fmt.Errorf("unsupported format %q: %w", formatName, err)
	}
	decoded, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	thumbnail := imaging.Fill(decoded, maxSize, maxSize, imaging.Center, imaging.Lanczos)

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := imaging.Encode(out, thumbnail, format); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func probe(path string) (image.Config, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()
	return image.DecodeConfig(file)
}
