package capture

import "testing"

func TestIsCaptureInvocation(t *testing.T) {
	marker := "/home/u/Videos/laboras"
	tests := []struct {
		name string
		argv []string
		want bool
	}{
		{
			name: "grab into segment",
			argv: []string{"/usr/bin/ffmpeg", "-f", "x11grab", "-i", ":0.0", "-y", marker + "/s1/video_part1700000000000.mp4"},
			want: true,
		},
		{
			name: "concat reading manifest",
			argv: []string{"ffmpeg", "-f", "concat", "-safe", "0", "-i", marker + "/s1/video_segments.txt", "-c", "copy", "-y", marker + "/s1/video_final.mp4"},
			want: false,
		},
		{
			name: "thumbnail",
			argv: []string{"ffmpeg", "-i", marker + "/s1/video.mp4", "-vframes", "1", "-y", marker + "/s1/thumbnail.jpg"},
			want: false,
		},
		{
			name: "grab outside sessions dir",
			argv: []string{"ffmpeg", "-f", "x11grab", "-i", ":0.0", "-y", "/tmp/other/video_part1.mp4"},
			want: false,
		},
		{
			name: "not ffmpeg",
			argv: []string{"/usr/bin/cp", marker + "/s1/video_part1.mp4", marker + "/s1/video_part2.mp4"},
			want: false,
		},
		{
			name: "bare command",
			argv: []string{"ffmpeg"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCaptureInvocation(tt.argv, marker); got != tt.want {
				t.Errorf("isCaptureInvocation(%v) = %v, want %v", tt.argv, got, tt.want)
			}
		})
	}
}
