// Package thumbs stores the representative thumbnail image captured at
// first enrollment. References returned here are what the identity
// store records as thumbnail_ref.
package thumbs

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const defaultSize = 160

// Store writes identity thumbnails into a directory, scaled to a fixed
// square size.
type Store struct {
	dir  string
	size int
}

// NewStore creates a thumbnail store rooted at dir, creating the
// directory if needed.
func NewStore(dir string, size int) (*Store, error) {
	if size <= 0 {
		size = defaultSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail directory: %w", err)
	}
	return &Store{dir: dir, size: size}, nil
}

// Save scales the image to the thumbnail size, writes it as JPEG under a
// fresh name and returns the reference to record on the identity.
func (s *Store) Save(imageData []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("decode thumbnail image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.size, s.size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	ref := uuid.NewString() + ".jpg"
	f, err := os.Create(filepath.Join(s.dir, ref))
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, dst, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return ref, nil
}

// Path resolves a stored reference to the file path on disk.
func (s *Store) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}
