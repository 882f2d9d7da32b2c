package capture

import "testing"

func TestScreenSizeFallsBackWithoutServer(t *testing.T) {
	// No X server listens on this display number
	w, h := ScreenSize(":4242")
	if w != DefaultScreenWidth || h != DefaultScreenHeight {
		t.Errorf("Expected %dx%d fallback, got %dx%d", DefaultScreenWidth, DefaultScreenHeight, w, h)
	}
}

func TestScreensWithoutServer(t *testing.T) {
	if _, err := Screens(":4242"); err == nil {
		t.Error("Expected error connecting to a missing display")
	}
}
