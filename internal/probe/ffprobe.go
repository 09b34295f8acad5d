package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Prober shells out to ffprobe to read container-level timing of a media
// file. Transport-stream chunks carry their position in the live session
// in start_time, which is how cached recordings are re-indexed after a
// restart.
type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

const maxProbeTimeout = 30 * time.Second

// ProbeDuration returns the duration and start time, in seconds, of the
// media file at path.
func (p *Prober) ProbeDuration(ctx context.Context, path string) (duration, start float64, err error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, 0, errors.New("file path is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	duration, start, parseErr := parseFormat(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return 0, 0, fmt.Errorf("ffprobe failed: %w", runErr)
			}
			return 0, 0, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
		}
		return 0, 0, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}
	return duration, start, nil
}

type formatPayload struct {
	Format struct {
		Duration  string `json:"duration"`
		StartTime string `json:"start_time"`
	} `json:"format"`
}

func parseFormat(data []byte) (duration, start float64, err error) {
	var payload formatPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, 0, err
	}
	if payload.Format.Duration == "" {
		return 0, 0, errors.New("no duration in ffprobe output")
	}
	duration, err = strconv.ParseFloat(payload.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, 0, fmt.Errorf("bad duration %q", payload.Format.Duration)
	}
	if payload.Format.StartTime != "" {
		if st, err := strconv.ParseFloat(payload.Format.StartTime, 64); err == nil && st > 0 {
			start = st
		}
	}
	return duration, start, nil
}
