package source

import (
	"context"
	"errors"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MeKo-Tech/idcap/internal/frame"
)

// FileSource serves still images from disk as if they were camera frames.
// Each file is also listed as a device, so selecting a device pins the stream
// to that file.
type FileSource struct {
	paths []string
}

// NewFileSource creates a source over the given image files.
func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

// NewDirSource creates a source over every supported image in dir, in name
// order.
func NewDirSource(dir string) (*FileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: KindNotFound, Err: err}
		}
		return nil, wrap(KindNotReadable, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !frame.IsSupported(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return &FileSource{paths: paths}, nil
}

// Devices lists one device per file.
func (s *FileSource) Devices(_ context.Context) ([]Device, error) {
	out := make([]Device, len(s.paths))
	for i, p := range s.paths {
		out[i] = Device{ID: p, Label: filepath.Base(p)}
	}
	return out, nil
}

// Open decodes the selected file, or every file when no device is selected.
func (s *FileSource) Open(ctx context.Context, cfg Config) (Stream, error) {
	paths := s.paths
	if cfg.DeviceID != "" {
		paths = nil
		for _, p := range s.paths {
			if p == cfg.DeviceID {
				paths = []string{p}
				break
			}
		}
	}
	if len(paths) == 0 {
		return nil, Errorf(KindNotFound, "no still images available")
	}

	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, wrap(KindUnknown, err)
		}
		img, err := frame.Load(p)
		if err != nil {
			switch {
			case errors.Is(err, fs.ErrNotExist):
				return nil, &Error{Kind: KindNotFound, Err: err}
			case errors.Is(err, fs.ErrPermission):
				return nil, &Error{Kind: KindPermissionDenied, Err: err}
			default:
				return nil, &Error{Kind: KindNotReadable, Err: err}
			}
		}
		frames = append(frames, img)
	}
	return &fileStream{frames: frames}, nil
}

type fileStream struct {
	mu      sync.Mutex
	frames  []image.Image
	index   int
	stopped bool
}

func (s *fileStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.frames) == 0 {
		return nil, false
	}
	return s.frames[s.index], true
}

// Next advances to the following still image, wrapping around.
func (s *fileStream) Next() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 0 {
		s.index = (s.index + 1) % len(s.frames)
	}
}

func (s *fileStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Advancer is implemented by streams that can step to another frame on
// demand, such as still-image streams.
type Advancer interface {
	Next()
}
