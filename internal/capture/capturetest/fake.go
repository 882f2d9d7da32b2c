// Package capturetest provides a stand-in for ffmpeg and ffprobe that runs
// inside the test binary itself.
//
// A test package opts in with
//
//	func TestHelperProcess(t *testing.T) {
//		if !capturetest.IsHelper() {
//			return
//		}
//		capturetest.Main()
//	}
//
// and builds its tools from Command.
package capturetest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	EnvHelper     = "GO_WANT_HELPER_PROCESS"
	EnvRecordMode = "FAKE_FFMPEG_RECORD"
	EnvConcatMode = "FAKE_FFMPEG_CONCAT"
)

// Recording behaviours.
const (
	RecordNormal = "record" // writes until "q" arrives on stdin, exits 0
	RecordCrash  = "crash"  // exits 137 shortly after starting
	RecordHang   = "hang"   // ignores the quit command, must be killed

	// RecordQuitCrash dies with 137 on "q" instead of finishing the file.
	RecordQuitCrash = "quit-crash"
	// RecordQuitEmpty truncates its output to nothing, then dies with 137 on "q".
	RecordQuitEmpty = "quit-empty"
)

// Concatenation behaviours.
const (
	ConcatCopy  = "copy"  // byte-concatenates the listed files
	ConcatEmpty = "empty" // exits 0 without producing output
	ConcatFail  = "fail"  // exits 1 with a diagnostic on stderr
	ConcatHang  = "hang"  // never finishes, must be killed
)

// ProbeDurationSeconds is what the fake ffprobe reports for every file.
const ProbeDurationSeconds = 5.0

// Command returns the path, leading arguments and environment of a tool that
// re-enters the current test binary as a fake ffmpeg.
func Command(record, concat string) (string, []string, []string) {
	return os.Args[0],
		[]string{"-test.run=TestHelperProcess", "--"},
		[]string{EnvHelper + "=1", EnvRecordMode + "=" + record, EnvConcatMode + "=" + concat}
}

func IsHelper() bool {
	return os.Getenv(EnvHelper) == "1"
}

// Main behaves like the invoked tool and exits the process.
func Main() {
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "fake ffmpeg: no arguments")
		os.Exit(2)
	}

	switch {
	case hasArg(args, "-show_format"):
		os.Exit(probe(args[len(args)-1]))
	case hasPair(args, "-f", "concat"):
		os.Exit(concat(argAfter(args, "-i"), args[len(args)-1]))
	case hasArg(args, "-vframes"):
		os.Exit(thumbnail(args[len(args)-1]))
	default:
		os.Exit(record(args[len(args)-1]))
	}
}

func record(output string) int {
	f, err := os.Create(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", output, err)
		return 1
	}
	defer f.Close()

	chunk := []byte(strings.Repeat("f", 63) + "\n")
	f.Write(chunk)
	fmt.Fprintf(os.Stderr, "Output #0, mp4, to '%s':\n", output)

	switch os.Getenv(EnvRecordMode) {
	case RecordCrash:
		time.Sleep(150 * time.Millisecond)
		fmt.Fprintln(os.Stderr, "Conversion failed!")
		return 137
	case RecordHang:
		go io.Copy(io.Discard, os.Stdin)
		for {
			f.Write(chunk)
			time.Sleep(10 * time.Millisecond)
		}
	}

	quit := make(chan struct{})
	go func() {
		r := bufio.NewReader(os.Stdin)
		for {
			b, err := r.ReadByte()
			if err != nil || b == 'q' {
				close(quit)
				return
			}
		}
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			switch os.Getenv(EnvRecordMode) {
			case RecordQuitEmpty:
				f.Truncate(0)
				fallthrough
			case RecordQuitCrash:
				fmt.Fprintln(os.Stderr, "Conversion failed!")
				return 137
			}
			f.Write(chunk)
			fmt.Fprintln(os.Stderr, "Exiting normally, received signal 2.")
			return 0
		case <-ticker.C:
			f.Write(chunk)
			fmt.Fprint(os.Stderr, "frame=  10 fps=10 q=23.0 size=1kB\r")
		}
	}
}

func concat(manifest, output string) int {
	switch os.Getenv(EnvConcatMode) {
	case ConcatEmpty:
		return 0
	case ConcatFail:
		fmt.Fprintf(os.Stderr, "%s: Invalid data found when processing input\n", manifest)
		return 1
	case ConcatHang:
		time.Sleep(time.Hour)
		return 1
	}

	data, err := os.ReadFile(manifest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	out, err := os.Create(output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer out.Close()

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file '") || !strings.HasSuffix(line, "'") {
			continue
		}
		path := strings.ReplaceAll(line[len("file '"):len(line)-1], `'\''`, `'`)
		in, err := os.Open(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	return 0
}

func thumbnail(output string) int {
	if err := os.WriteFile(output, []byte("\xff\xd8\xff\xe0fake-jpeg"), 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func probe(input string) int {
	info, err := os.Stat(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: No such file or directory\n", input)
		return 1
	}
	report := map[string]any{
		"format": map[string]any{
			"filename":    input,
			"format_name": "mov,mp4,m4a,3gp,3g2,mj2",
			"duration":    fmt.Sprintf("%.6f", ProbeDurationSeconds),
			"size":        fmt.Sprintf("%d", info.Size()),
		},
		"streams": []map[string]any{
			{"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720},
		},
	}
	json.NewEncoder(os.Stdout).Encode(report)
	return 0
}

func hasArg(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func hasPair(args []string, name, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name && args[i+1] == value {
			return true
		}
	}
	return false
}

func argAfter(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}
