package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/frith/blog/internal/storage"
)

const (
	SmallThumbnailSize = 128
	LargeThumbnailSize = 512
)

// ErrPassthrough is returned by a Thumbnailer that leaves the image as it is,
// either because the format is animated or because it already fits.
var ErrPassthrough = errors.New("jobs: image passed through unresized")

// Thumbnailer writes a copy of src no larger than maxSize on either side to dst.
type Thumbnailer interface {
	Thumbnail(src, dst string, maxSize int) error
}

// ImageLocator resolves where an image variant lives on disk.
type ImageLocator interface {
	ImagePath(postID string, size storage.ThumbnailSize, name string) string
}

// Thumbnails renders the small and large variant of every image of a post.
type Thumbnails struct {
	images ImageLocator
	codec  Thumbnailer
}

func NewThumbnails(images ImageLocator, codec Thumbnailer) *Thumbnails {
	if codec == nil {
		codec = NewImagingThumbnailer()
	}
	return &Thumbnails{images: images, codec: codec}
}

func (t *Thumbnails) Kind() Kind {
	return KindThumbnails
}

// Run processes every image even when some fail and returns the joined errors.
func (t *Thumbnails) Run(ctx context.Context, target Target) error {
	var errs []error
	for _, name := range target.Images {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		raw := t.images.ImagePath(target.PostID, storage.SizeRaw, name)
		variants := []struct {
			size    storage.ThumbnailSize
			maxSize int
		}{
			{storage.SizeSmall, SmallThumbnailSize},
			{storage.SizeLarge, LargeThumbnailSize},
		}
		for _, variant := range variants {
			dst := t.images.ImagePath(target.PostID, variant.size, name)
			if err := t.render(raw, dst, variant.maxSize); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", variant.size, name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (t *Thumbnails) render(src, dst string, maxSize int) error {
	err := t.codec.Thumbnail(src, dst, maxSize)
	if errors.Is(err, ErrPassthrough) {
		return copyFile(src, dst)
	}
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
