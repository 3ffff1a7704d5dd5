// Package media probes uploaded video payloads for playback metadata.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// FFProbe reads video durations by shelling out to the ffprobe binary.
// The zero value uses "ffprobe" from PATH.
type FFProbe struct {
	Binary string
}

// ProbeDuration writes the payload to a temporary file and asks ffprobe for
// its container duration.
func (p *FFProbe) ProbeDuration(ctx context.Context, content []byte, contentType string) (time.Duration, error) {
	binary := p.Binary
	if binary == "" {
		binary = "ffprobe"
	}

	tmp, err := os.CreateTemp("", "curricula-probe-*")
	if err != nil {
		return 0, fmt.Errorf("media: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("media: temp write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("media: temp close: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		tmp.Name(),
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("media: ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, fmt.Errorf("media: parse ffprobe output: %w", err)
	}
	if parsed.Format.Duration == "" {
		return 0, fmt.Errorf("media: ffprobe reported no duration")
	}
	seconds, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse duration %q: %w", parsed.Format.Duration, err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
