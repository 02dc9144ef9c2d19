// Package audio measures and slices audio files with ffprobe and ffmpeg.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ChunkFormat is the container every exported chunk uses.
const ChunkFormat = "mp3"

type Chunk struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return out, nil
}

type Splitter struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
}

func NewSplitter(ffmpegPath, ffprobePath string, runner Runner) *Splitter {
	if runner == nil {
		runner = execRunner{}
	}
	return &Splitter{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, runner: runner}
}

// Probe returns the duration of the audio at path.
func (s *Splitter) Probe(ctx context.Context, path string) (time.Duration, error) {
	out, err := s.runner.Run(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: unexpected duration %q", path, strings.TrimSpace(string(out)))
	}
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("probe %s: invalid duration %v", path, seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Plan cuts total into ceil(total/size) consecutive chunks; the last one
// holds the remainder.
func Plan(total, size time.Duration) []Chunk {
	if total <= 0 || size <= 0 {
		return nil
	}
	n := int((total + size - 1) / size)
	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := time.Duration(i) * size
		end := min(start+size, total)
		chunks = append(chunks, Chunk{Index: i, Start: start, Duration: end - start})
	}
	return chunks
}

// Export writes chunk c of src to dst as MP3.
func (s *Splitter) Export(ctx context.Context, src string, c Chunk, dst string) error {
	_, err := s.runner.Run(ctx, s.ffmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(c.Start),
		"-t", formatSeconds(c.Duration),
		"-i", src,
		"-vn",
		"-acodec", "libmp3lame",
		"-f", ChunkFormat,
		dst,
	)
	if err != nil {
		return fmt.Errorf("export chunk %d: %w", c.Index+1, err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
