// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// FRAME EXTRACTOR
// =============================================================================

// FrameExtractor decodes still frames from a video.
type FrameExtractor interface {
	// FrameCount returns the number of frames in the video.
	FrameCount(ctx context.Context, video []byte, mimeType string) (int, error)

	// Frames decodes the frames at the given ascending indices. It returns
	// one frame per index, in index order.
	Frames(ctx context.Context, video []byte, mimeType string, indices []int) ([]model.Frame, error)
}

// =============================================================================
// FFMPEG
// =============================================================================

// FFmpegExtractor shells out to ffprobe and ffmpeg.
type FFmpegExtractor struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegExtractor returns an extractor using the given binaries, or
// "ffmpeg"/"ffprobe" from PATH when empty.
func NewFFmpegExtractor(ffmpegPath, ffprobePath string) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegExtractor{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Available reports whether both binaries can be found.
func (e *FFmpegExtractor) Available() bool {
	if _, err := exec.LookPath(e.FFmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(e.FFprobePath)
	return err == nil
}

// FrameCount counts video packets with ffprobe.
func (e *FFmpegExtractor) FrameCount(ctx context.Context, video []byte, mimeType string) (int, error) {
	dir, input, err := writeTemp(video, mimeType)
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		input,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimRight(string(out), ",\n")))
	if err != nil {
		return 0, fmt.Errorf("ffprobe: unexpected output %q", out)
	}
	return n, nil
}

// Frames writes the selected frames as JPEG via ffmpeg's select filter.
func (e *FFmpegExtractor) Frames(ctx context.Context, video []byte, mimeType string, indices []int) ([]model.Frame, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	dir, input, err := writeTemp(video, mimeType)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	terms := make([]string, len(indices))
	for i, idx := range indices {
		terms[i] = fmt.Sprintf("eq(n\\,%d)", idx)
	}
	pattern := filepath.Join(dir, "frame_%04d.jpg")
	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-v", "error",
		"-i", input,
		"-vf", "select='"+strings.Join(terms, "+")+"'",
		"-vsync", "vfr",
		"-q:v", "3",
		pattern,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) > len(indices) {
		files = files[:len(indices)]
	}

	frames := make([]model.Frame, 0, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		frames = append(frames, model.Frame{Index: indices[i], MIMEType: "image/jpeg", Data: data})
	}
	return frames, nil
}

func writeTemp(video []byte, mimeType string) (dir, path string, err error) {
	dir, err = os.MkdirTemp("", "modelgate-video-")
	if err != nil {
		return "", "", err
	}
	ext := ".bin"
	if _, sub, ok := strings.Cut(mimeType, "/"); ok && sub != "" {
		ext = "." + sub
	}
	path = filepath.Join(dir, "input"+ext)
	if err := os.WriteFile(path, video, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	return dir, path, nil
}
