package frame

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists the file extensions Load accepts.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// DecodeError describes a failure to decode or encode a frame.
type DecodeError struct {
	Operation string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frame %s error: %v", e.Operation, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Decode decodes an encoded still frame (JPEG, PNG, BMP or WebP).
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", &DecodeError{Operation: "decode", Err: err}
	}
	return img, format, nil
}

// Load opens and decodes an image file.
func Load(path string) (image.Image, error) {
	if path == "" {
		return nil, &DecodeError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupported(path) {
		return nil, &DecodeError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided frame path is expected
	if err != nil {
		return nil, &DecodeError{Operation: "load", Err: err}
	}
	defer func() { _ = f.Close() }()

	img, _, err := Decode(f)
	return img, err
}
