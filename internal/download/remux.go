package download

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// remuxArgs builds the ffmpeg argument list that copies the input streams
// (and an optional subtitle track) into a Matroska container.
func remuxArgs(input, subtitle, title, output string) []string {
	args := []string{
		"-y",
		"-i", input,
	}

	if subtitle != "" {
		args = append(args, "-i", subtitle)
	}

	args = append(args,
		"-c:v", "copy",
		"-c:a", "copy",
	)

	if subtitle != "" {
		args = append(args,
			"-c:s", "srt",
			"-map", "0:v",
			"-map", "0:a",
			"-map", "1:s",
		)
	}

	if title != "" {
		args = append(args, "-metadata", fmt.Sprintf("title=%s", title))
	}
	return append(args, output)
}

// remux converts a downloaded transport stream into an .mkv next to it
// and removes the input on success.
func remux(ctx context.Context, input, subtitle, title string) (string, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	output := strings.TrimSuffix(input, ".ts") + ".mkv"
	cmd := exec.CommandContext(ctx, ffmpegPath, remuxArgs(input, subtitle, title, output)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(output)
		return "", fmt.Errorf("ffmpeg remux failed: %w: %s", err, lastLine(string(out)))
	}

	if err := os.Remove(input); err != nil {
		return output, fmt.Errorf("removing transport stream: %w", err)
	}
	return output, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
