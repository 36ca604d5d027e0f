//go:build camera_gocv

package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// maxProbe bounds device enumeration.
const maxProbe = 8

// CameraAvailable reports whether a camera backend is linked.
const CameraAvailable = true

// CameraSource streams frames from local capture devices through OpenCV.
type CameraSource struct{}

// NewCameraSource returns the OpenCV-backed camera source.
func NewCameraSource() (Source, error) { return &CameraSource{}, nil }

// Devices probes the first few device indices.
func (c *CameraSource) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	for i := 0; i < maxProbe; i++ {
		if err := ctx.Err(); err != nil {
			return nil, wrap(KindUnknown, err)
		}
		cam, err := gocv.VideoCaptureDevice(i)
		if err != nil {
			continue
		}
		ok := cam.IsOpened()
		_ = cam.Close()
		if !ok {
			continue
		}
		out = append(out, Device{ID: strconv.Itoa(i), Label: deviceLabel(i)})
	}
	return out, nil
}

// Open starts a background reader on the selected device. Without a device ID
// the preferred device from Devices is used.
func (c *CameraSource) Open(ctx context.Context, cfg Config) (Stream, error) {
	id := cfg.DeviceID
	if id == "" {
		devices, err := c.Devices(ctx)
		if err != nil {
			return nil, err
		}
		d, ok := PreferredDevice(devices)
		if !ok {
			return nil, Errorf(KindNotFound, "no capture device found")
		}
		id = d.ID
	}
	index, err := strconv.Atoi(id)
	if err != nil {
		return nil, Errorf(KindNotFound, "invalid device id %q", id)
	}
	if err := probeNode(index); err != nil {
		return nil, err
	}

	cam, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Err: err}
	}
	if !cam.IsOpened() {
		_ = cam.Close()
		return nil, Errorf(KindNotReadable, "device %d could not be opened", index)
	}
	if cfg.Width > 0 {
		cam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	st := &cameraStream{cam: cam, done: make(chan struct{})}
	mat := gocv.NewMat()
	if !cam.Read(&mat) || mat.Empty() {
		_ = mat.Close()
		_ = cam.Close()
		return nil, Errorf(KindNotReadable, "device %d delivered no frames", index)
	}
	st.store(&mat)

	slog.Debug("camera stream opened", "device", index,
		"width", cam.Get(gocv.VideoCaptureFrameWidth),
		"height", cam.Get(gocv.VideoCaptureFrameHeight))

	st.wg.Add(1)
	go st.run(mat)
	return st, nil
}

type cameraStream struct {
	cam  *gocv.VideoCapture
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	latest image.Image
}

func (s *cameraStream) run(mat gocv.Mat) {
	defer s.wg.Done()
	defer func() { _ = mat.Close() }()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if !s.cam.Read(&mat) || mat.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.store(&mat)
	}
}

func (s *cameraStream) store(mat *gocv.Mat) {
	img, err := mat.ToImage()
	if err != nil {
		slog.Debug("camera frame conversion failed", "error", err)
		return
	}
	s.mu.Lock()
	s.latest = img
	s.mu.Unlock()
}

func (s *cameraStream) Frame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

func (s *cameraStream) Stop() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.cam.Close()
		s.mu.Lock()
		s.latest = nil
		s.mu.Unlock()
	})
	return err
}

// probeNode maps access errors on the Linux device node to source kinds.
func probeNode(index int) error {
	node := fmt.Sprintf("/dev/video%d", index)
	f, err := os.Open(node)
	if err == nil {
		return f.Close()
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return &Error{Kind: KindPermissionDenied, Err: err}
	case errors.Is(err, fs.ErrNotExist):
		// Non-V4L platforms have no device nodes; let OpenCV decide.
		return nil
	default:
		return &Error{Kind: KindNotReadable, Err: err}
	}
}

func deviceLabel(index int) string {
	name, err := os.ReadFile(filepath.Join("/sys/class/video4linux", fmt.Sprintf("video%d", index), "name"))
	if err == nil {
		if label := strings.TrimSpace(string(name)); label != "" {
			return label
		}
	}
	return fmt.Sprintf("Camera %d", index+1)
}
