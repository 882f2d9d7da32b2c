package capture

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Backend produces the encoder arguments for one desktop grabbing method.
type Backend interface {
	Name() string
	Args(settings Settings, output string) []string
}

type UnsupportedPlatformError struct {
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s", e.Platform)
}

// DetectBackend selects the backend for the running platform.
func DetectBackend() (Backend, error) {
	return BackendFor(runtime.GOOS)
}

func BackendFor(goos string) (Backend, error) {
	switch goos {
	case "windows":
		return &GDIGrabBackend{}, nil
	case "darwin":
		return &AVFoundationBackend{}, nil
	case "linux":
		return NewX11GrabBackend(""), nil
	default:
		return nil, &UnsupportedPlatformError{Platform: goos}
	}
}

type GDIGrabBackend struct{}

func (b *GDIGrabBackend) Name() string { return "gdigrab" }

func (b *GDIGrabBackend) Args(settings Settings, output string) []string {
	return buildArgs(settings, []string{"-f", "gdigrab", "-i", "desktop"}, true, output)
}

type AVFoundationBackend struct{}

func (b *AVFoundationBackend) Name() string { return "avfoundation" }

func (b *AVFoundationBackend) Args(settings Settings, output string) []string {
	// Video device 1 is the first screen; "none" keeps the microphone closed
	return buildArgs(settings, []string{"-f", "avfoundation", "-i", "1:none"}, true, output)
}

// X11GrabBackend captures the whole X screen. The grab size is read from the
// X server every time arguments are built so a resolution change between
// segments is picked up.
type X11GrabBackend struct {
	Display    string
	ScreenSize func(display string) (int, int)
}

func NewX11GrabBackend(display string) *X11GrabBackend {
	return &X11GrabBackend{Display: display, ScreenSize: ScreenSize}
}

func (b *X11GrabBackend) Name() string { return "x11grab" }

func (b *X11GrabBackend) Args(settings Settings, output string) []string {
	width, height := DefaultScreenWidth, DefaultScreenHeight
	if b.ScreenSize != nil {
		width, height = b.ScreenSize(b.Display)
	}
	input := []string{
		"-f", "x11grab",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", b.input(),
	}
	// Full screen is grabbed at native size, no scaling
	return buildArgs(settings, input, false, output)
}

// input is the display to grab, $DISPLAY when none was set.
func (b *X11GrabBackend) input() string {
	if b.Display != "" {
		return b.Display
	}
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":0.0"
}

func buildArgs(settings Settings, input []string, scale bool, output string) []string {
	args := []string{"-framerate", strconv.Itoa(settings.FrameRate)}
	args = append(args, input...)
	args = append(args,
		"-c:v", "libx264",
		"-preset", "fast",
		"-tune", "zerolatency",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
	)
	if scale {
		if target, ok := settings.Quality.Scale(); ok {
			args = append(args, "-vf", "scale="+target)
		}
	}
	return append(args, "-y", output)
}
