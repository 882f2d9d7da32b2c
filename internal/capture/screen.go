package capture

import (
	"fmt"
	"log/slog"

	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil"
)

const (
	DefaultScreenWidth  = 1920
	DefaultScreenHeight = 1080
)

// ScreenInfo describes one X screen.
type ScreenInfo struct {
	Index   int
	Width   int
	Height  int
	Depth   int
	Default bool
}

// ScreenSize asks the X server for the size of the default screen. An empty
// display uses $DISPLAY. Any failure yields 1920x1080.
func ScreenSize(display string) (int, int) {
	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		slog.Debug("Could not query X screen size, using default", "display", display, "error", err)
		return DefaultScreenWidth, DefaultScreenHeight
	}
	defer xu.Conn().Close()

	screen := xu.Screen()
	if screen == nil || screen.WidthInPixels == 0 || screen.HeightInPixels == 0 {
		return DefaultScreenWidth, DefaultScreenHeight
	}
	return int(screen.WidthInPixels), int(screen.HeightInPixels)
}

// Screens lists every root screen the X server reports.
func Screens(display string) ([]ScreenInfo, error) {
	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X display %q: %w", display, err)
	}
	defer xu.Conn().Close()

	setup := xproto.Setup(xu.Conn())
	defaultNum := xu.Conn().DefaultScreen

	screens := make([]ScreenInfo, 0, len(setup.Roots))
	for i, root := range setup.Roots {
		screens = append(screens, ScreenInfo{
			Index:   i,
			Width:   int(root.WidthInPixels),
			Height:  int(root.HeightInPixels),
			Depth:   int(root.RootDepth),
			Default: i == defaultNum,
		})
	}
	return screens, nil
}
