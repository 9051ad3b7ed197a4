package recording

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

type FFmpegConfig struct {
	Path            string
	SegmentDuration time.Duration
	PlaylistSize    int
	// StopGrace is how long ffmpeg gets to flush after an interrupt
	// before it is killed.
	StopGrace time.Duration
}

func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		Path:            "ffmpeg",
		SegmentDuration: 6 * time.Second,
		PlaylistSize:    10,
		StopGrace:       10 * time.Second,
	}
}

// FFmpegEncoder reads IVF from its input and writes a rolling HLS window.
type FFmpegEncoder struct {
	cfg    FFmpegConfig
	logger *zap.SugaredLogger
}

func NewFFmpegEncoder(cfg FFmpegConfig, logger *zap.SugaredLogger) *FFmpegEncoder {
	defaults := DefaultFFmpegConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = defaults.SegmentDuration
	}
	if cfg.PlaylistSize <= 0 {
		cfg.PlaylistSize = defaults.PlaylistSize
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaults.StopGrace
	}
	return &FFmpegEncoder{cfg: cfg, logger: logger}
}

func (e *FFmpegEncoder) Args(outputDir string) []string {
	seconds := strconv.FormatFloat(e.cfg.SegmentDuration.Seconds(), 'f', -1, 64)
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-f", "ivf",
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-force_key_frames", "expr:gte(t,n_forced*" + seconds + ")",
		"-f", "hls",
		"-hls_time", seconds,
		"-hls_list_size", strconv.Itoa(e.cfg.PlaylistSize),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, "seg_%05d.ts"),
		filepath.Join(outputDir, ManifestName),
	}
}

func (e *FFmpegEncoder) Start(ctx context.Context, input io.Reader, outputDir string) (ports.EncodeProcess, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, e.cfg.Path, e.Args(outputDir)...)
	cmd.Stdin = input
	cmd.Stdout = newLogWriter(e.logger, outputDir, "stdout")
	cmd.Stderr = newLogWriter(e.logger, outputDir, "stderr")

	proc, err := startProcess(cmd, cancel, e.cfg.StopGrace)
	if err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.logger.Infow("encoder started",
		"output_dir", outputDir,
		"pid", cmd.Process.Pid,
	)
	return proc, nil
}

// process supervises one child process. Cancel sends an interrupt so the
// child can finish its output; the kill comes after the grace period.
type process struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func startProcess(cmd *exec.Cmd, cancel context.CancelFunc, grace time.Duration) (*process, error) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	p := &process{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		cancel()
		close(p.done)
	}()
	return p, nil
}

func (p *process) Cancel()               { p.cancel() }
func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// logWriter forwards child output to the logger line by line.
type logWriter struct {
	logger    *zap.SugaredLogger
	outputDir string
	stream    string
}

func newLogWriter(logger *zap.SugaredLogger, outputDir, stream string) *logWriter {
	return &logWriter{logger: logger, outputDir: outputDir, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Infow("encoder output",
			"output_dir", w.outputDir,
			"stream", w.stream,
			"line", string(line),
		)
	}
	return total, nil
}
