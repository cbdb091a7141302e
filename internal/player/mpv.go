package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// recordEvery throttles how often time-pos updates reach the recorder.
const recordEvery = time.Second

// MPV plays streams with mpv and follows the playback position over its
// JSON IPC socket.
type MPV struct {
	recorder TimeRecorder
	logger   *zap.Logger
}

func (m *MPV) Name() string { return "mpv" }

func (m *MPV) Available() bool {
	_, err := exec.LookPath("mpv")
	return err == nil
}

// Play launches mpv and returns the last observed position and duration.
func (m *MPV) Play(ctx context.Context, req Request) (Result, error) {
	// Randomized socket directory so the path cannot be pre-created.
	socketDir, err := os.MkdirTemp("", "sora-mpv-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating temp dir for mpv socket: %w", err)
	}
	defer os.RemoveAll(socketDir)

	socketPath := filepath.Join(socketDir, "socket")

	cmd := exec.CommandContext(ctx, "mpv", mpvArgs(req, socketPath)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting mpv: %w", err)
	}

	tracked := make(chan Result, 1)
	go func() {
		tracked <- m.follow(socketPath, req.ProgressKey)
	}()

	waitErr := cmd.Wait()
	res := <-tracked

	if waitErr != nil {
		var exitErr *exec.ExitError
		// mpv exits with 4 when the user quits; that is a normal end.
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 4 {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("mpv: %w", waitErr)
	}
	return res, nil
}

// mpvArgs builds the mpv command line. Every value is its own argument.
func mpvArgs(req Request, socketPath string) []string {
	args := []string{
		req.URL,
		"--input-ipc-server=" + socketPath,
		"--really-quiet",
	}
	if req.Title != "" {
		args = append(args, "--force-media-title="+req.Title)
	}
	if req.StartPos > 0 {
		args = append(args, fmt.Sprintf("--start=+%.0f", req.StartPos))
	}
	if req.Subtitle != "" {
		args = append(args, "--sub-file="+req.Subtitle)
	}
	if len(req.Headers) > 0 {
		args = append(args, "--http-header-fields="+headerFields(req.Headers))
	}
	return args
}

// headerFields renders headers as mpv's comma-separated list, sorted by
// name. Commas inside values are escaped.
func headerFields(headers map[string]string) string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]string, 0, len(names))
	for _, k := range names {
		v := strings.ReplaceAll(headers[k], ",", `\,`)
		fields = append(fields, k+": "+v)
	}
	return strings.Join(fields, ",")
}

// follow connects to the IPC socket once mpv has created it and tracks
// playback until the connection closes.
func (m *MPV) follow(socketPath, key string) Result {
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		m.logger.Debug("mpv ipc unavailable", zap.Error(err))
		return Result{}
	}
	defer conn.Close()

	for id, prop := range []string{"duration", "time-pos"} {
		data, _ := json.Marshal(map[string]interface{}{
			"command": []interface{}{"observe_property", id + 1, prop},
		})
		if _, err := conn.Write(append(data, '\n')); err != nil {
			m.logger.Debug("mpv ipc write", zap.Error(err))
			return Result{}
		}
	}

	return m.track(conn, key, time.Now)
}

type propertyChange struct {
	Event string   `json:"event"`
	Name  string   `json:"name"`
	Data  *float64 `json:"data"`
}

// track reads property-change events from r. Positions are passed to the
// recorder at most once per recordEvery, and once more at the end.
func (m *MPV) track(r io.Reader, key string, now func() time.Time) Result {
	var (
		res      Result
		lastSent time.Time
		dirty    bool
	)

	record := func() {
		if m.recorder == nil || key == "" || res.Position <= 0 {
			return
		}
		if err := m.recorder.UpdateProgress(key, res.Position, res.Duration); err != nil {
			m.logger.Warn("recording playback position", zap.Error(err))
		}
		dirty = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var ev propertyChange
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Event != "property-change" || ev.Data == nil {
			continue
		}
		switch ev.Name {
		case "duration":
			if *ev.Data > 0 {
				res.Duration = *ev.Data
			}
		case "time-pos":
			if *ev.Data > 0 {
				res.Position = *ev.Data
				dirty = true
			}
		default:
			continue
		}
		if dirty && now().Sub(lastSent) >= recordEvery {
			lastSent = now()
			record()
		}
	}
	if dirty {
		record()
	}
	return res
}
