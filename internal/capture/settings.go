package capture

import "fmt"

// Quality is the requested output resolution of a capture.
type Quality string

const (
	Quality480p  Quality = "480p"
	Quality720p  Quality = "720p"
	Quality1080p Quality = "1080p"
)

var scaleTargets = map[Quality]string{
	Quality480p:  "854:480",
	Quality720p:  "1280:720",
	Quality1080p: "1920:1080",
}

func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if _, ok := scaleTargets[q]; !ok {
		return "", fmt.Errorf("unknown quality %q (expected 480p, 720p or 1080p)", s)
	}
	return q, nil
}

// Scale returns the ffmpeg scale filter target for q, if any.
func (q Quality) Scale() (string, bool) {
	s, ok := scaleTargets[q]
	return s, ok
}

// Settings is fixed for the lifetime of a session.
type Settings struct {
	FrameRate int     `json:"frameRate"`
	Quality   Quality `json:"videoQuality"`
}

func (s Settings) Validate() error {
	if s.FrameRate < 1 || s.FrameRate > 240 {
		return fmt.Errorf("frame rate must be between 1 and 240, got %d", s.FrameRate)
	}
	if _, ok := s.Quality.Scale(); !ok {
		return fmt.Errorf("unknown quality %q", s.Quality)
	}
	return nil
}
