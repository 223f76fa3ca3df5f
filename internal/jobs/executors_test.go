package jobs

import (
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"testing"

	"github.com/frith/blog/internal/storage"
)

func newStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			canvas.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, canvas); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func decodedBounds(t *testing.T, path string) image.Rectangle {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()
	config, _, err := image.DecodeConfig(file)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return image.Rect(0, 0, config.Width, config.Height)
}

func TestReplyLinkAppendsOnce(t *testing.T) {
	store := newStore(t)
	if err := store.CreatePost(storage.Post{ID: "parent", Author: "alice"}); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	link := NewReplyLink(store)
	target := Target{PostID: "child", ReplyTo: "parent"}
	for attempt := 0; attempt < 2; attempt++ {
		if err := link.Run(context.Background(), target); err != nil {
			t.Fatalf("run %d: %v", attempt, err)
		}
	}
	parent, err := store.ReadPost("parent")
	if err != nil {
		t.Fatalf("read parent: %v", err)
	}
	if len(parent.Replies) != 1 || parent.Replies[0] != "child" {
		t.Fatalf("expected a single reply entry, got %v", parent.Replies)
	}
}

func TestReplyLinkMissingParent(t *testing.T) {
	link := NewReplyLink(newStore(t))
	if err := link.Run(context.Background(), Target{PostID: "child", ReplyTo: "gone"}); err == nil {
		t.Fatalf("expected error for missing parent")
	}
	if err := link.Run(context.Background(), Target{PostID: "child"}); err == nil {
		t.Fatalf("expected error when post is not a reply")
	}
}

func TestThumbnailsResizeLargeImages(t *testing.T) {
	store := newStore(t)
	if err := store.CreatePost(storage.Post{ID: "p1", Author: "alice"}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	writePNG(t, store.ImagePath("p1", storage.SizeRaw, "wide.png"), 800, 600)

	executor := NewThumbnails(store, nil)
	if err := executor.Run(context.Background(), Target{PostID: "p1", Images: []string{"wide.png"}}); err != nil {
		t.Fatalf("run thumbnails: %v", err)
	}
	small := decodedBounds(t, store.ImagePath("p1", storage.SizeSmall, "wide.png"))
	if small.Dx() != SmallThumbnailSize || small.Dy() != SmallThumbnailSize {
		t.Fatalf("unexpected small thumbnail %v", small)
	}
	large := decodedBounds(t, store.ImagePath("p1", storage.SizeLarge, "wide.png"))
	if large.Dx() != LargeThumbnailSize || large.Dy() != LargeThumbnailSize {
		t.Fatalf("unexpected large thumbnail %v", large)
	}
}

func TestThumbnailsCopySmallImagesAndAnimations(t *testing.T) {
	store := newStore(t)
	if err := store.CreatePost(storage.Post{ID: "p1", Author: "alice"}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	writePNG(t, store.ImagePath("p1", storage.SizeRaw, "tiny.png"), 40, 30)

	frames := &gif.GIF{
		Image: []*image.Paletted{
			image.NewPaletted(image.Rect(0, 0, 700, 700), color.Palette{color.Black, color.White}),
			image.NewPaletted(image.Rect(0, 0, 700, 700), color.Palette{color.Black, color.White}),
		},
		Delay: []int{10, 10},
	}
	gifFile, err := os.Create(store.ImagePath("p1", storage.SizeRaw, "anim.gif"))
	if err != nil {
		t.Fatalf("create gif: %v", err)
	}
	if err := gif.EncodeAll(gifFile, frames); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	gifFile.Close()

	executor := NewThumbnails(store, nil)
	target := Target{PostID: "p1", Images: []string{"tiny.png", "anim.gif"}}
	if err := executor.Run(context.Background(), target); err != nil {
		t.Fatalf("run thumbnails: %v", err)
	}
	for _, name := range target.Images {
		raw, _ := os.ReadFile(store.ImagePath("p1", storage.SizeRaw, name))
		for _, size := range []storage.ThumbnailSize{storage.SizeSmall, storage.SizeLarge} {
			copied, err := os.ReadFile(store.ImagePath("p1", size, name))
			if err != nil {
				t.Fatalf("read %s %s: %v", size, name, err)
			}
			if string(copied) != string(raw) {
				t.Fatalf("expected %s %s to be an unchanged copy", size, name)
			}
		}
	}
}

func TestThumbnailsContinuePastBrokenImage(t *testing.T) {
	store := newStore(t)
	if err := store.CreatePost(storage.Post{ID: "p1", Author: "alice"}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	if err := os.WriteFile(store.ImagePath("p1", storage.SizeRaw, "broken.png"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write broken image: %v", err)
	}
	writePNG(t, store.ImagePath("p1", storage.SizeRaw, "good.png"), 600, 600)

	executor := NewThumbnails(store, nil)
	err := executor.Run(context.Background(), Target{PostID: "p1", Images: []string{"broken.png", "good.png"}})
	if err == nil {
		t.Fatalf("expected error for broken image")
	}
	if _, statErr := os.Stat(store.ImagePath("p1", storage.SizeLarge, "good.png")); statErr != nil {
		t.Fatalf("expected good image to be processed, got %v", statErr)
	}
}

type passthroughCodec struct {
	calls int
}

func (p *passthroughCodec) Thumbnail(string, string, int) error {
	p.calls++
	return ErrPassthrough
}

func TestThumbnailsUseInjectedCodec(t *testing.T) {
	store := newStore(t)
	if err := store.CreatePost(storage.Post{ID: "p1", Author: "alice"}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	if err := os.WriteFile(store.ImagePath("p1", storage.SizeRaw, "a.bin"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	codec := &passthroughCodec{}
	if err := NewThumbnails(store, codec).Run(context.Background(), Target{PostID: "p1", Images: []string{"a.bin"}}); err != nil {
		t.Fatalf("run thumbnails: %v", err)
	}
	if codec.calls != 2 {
		t.Fatalf("expected two codec calls, got %d", codec.calls)
	}
	data, _ := os.ReadFile(store.ImagePath("p1", storage.SizeSmall, "a.bin"))
	if string(data) != "payload" {
		t.Fatalf("expected passthrough copy, got %q", data)
	}
}
