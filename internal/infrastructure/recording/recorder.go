package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/monitoring"
	"github.com/verawat1234/tchat-sub013/pkg/tracing"
	"github.com/verawat1234/tchat-sub013/pkg/utils"
)

type Config struct {
	RootDir         string
	KeyPrefix       string
	StopTimeout     time.Duration
	Retention       time.Duration
	ExpiredGrace    time.Duration
	CleanupInterval time.Duration
	UploadWorkers   int
	Captions        bool
	// CaptionCueDuration is how long each chat message stays on screen.
	CaptionCueDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		RootDir:            filepath.Join(os.TempDir(), "live-recordings"),
		KeyPrefix:          "recordings",
		StopTimeout:        30 * time.Second,
		Retention:          30 * 24 * time.Hour,
		ExpiredGrace:       7 * 24 * time.Hour,
		CleanupInterval:    time.Hour,
		UploadWorkers:      4,
		CaptionCueDuration: defaultCueDuration,
	}
}

// entry is the registry record behind one RecordingSession.
type entry struct {
	id       string
	session  domain.RecordingSession
	input    io.Reader
	proc     ports.EncodeProcess
	stopping bool
	exited   chan struct{}
	keys     []string
}

// Recorder owns the recording registry: one active session per stream,
// plus finished sessions kept until their artifacts expire.
type Recorder struct {
	cfg     Config
	encoder ports.Encoder
	storage ports.ObjectStorage
	chat    ports.ChatHistory
	taps    MediaTaps
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[domain.StreamID]*entry
	retired  []*entry
}

func NewRecorder(cfg Config, encoder ports.Encoder, storage ports.ObjectStorage, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Recorder {
	defaults := DefaultConfig()
	if cfg.RootDir == "" {
		cfg.RootDir = defaults.RootDir
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaults.StopTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaults.Retention
	}
	if cfg.ExpiredGrace <= 0 {
		cfg.ExpiredGrace = defaults.ExpiredGrace
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = defaults.UploadWorkers
	}
	if cfg.CaptionCueDuration <= 0 {
		cfg.CaptionCueDuration = defaults.CaptionCueDuration
	}

	return &Recorder{
		cfg:      cfg,
		encoder:  encoder,
		storage:  storage,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[domain.StreamID]*entry),
	}
}

// SetChatHistory enables the caption sidecar source.
func (r *Recorder) SetChatHistory(chat ports.ChatHistory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = chat
}

// SetMediaTaps sets the peer session manager StartLive records from.
func (r *Recorder) SetMediaTaps(taps MediaTaps) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps = taps
}

// SetClock is used by tests.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Recorder) clock() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// Start launches an encode worker fed by input and returns the new session.
func (r *Recorder) Start(ctx context.Context, streamID domain.StreamID, input io.Reader) (domain.RecordingSession, error) {
	recordingID := utils.GenerateRecordingID()
	ctx, span := tracing.TraceRecording(ctx, "start", string(streamID), recordingID)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[streamID]; ok {
		switch prev.session.Status {
		case domain.RecordingActive, domain.RecordingProcessing:
			return prev.session, domain.ErrRecordingActive
		}
		r.retired = append(r.retired, prev)
		delete(r.sessions, streamID)
	}

	now := r.now()
	dir := filepath.Join(r.cfg.RootDir, string(streamID), strconv.FormatInt(now.UnixNano(), 10))
	e := &entry{
		id:    recordingID,
		input: input,
		session: domain.RecordingSession{
			StreamID:  streamID,
			Status:    domain.RecordingNotStarted,
			LocalPath: dir,
			StartedAt: now,
		},
		exited: make(chan struct{}),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		tracing.RecordError(ctx, err)
		return e.session, fmt.Errorf("failed to create recording directory: %w", err)
	}

	// The worker outlives the request that started it.
	proc, err := r.encoder.Start(context.WithoutCancel(ctx), input, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		tracing.RecordError(ctx, err)
		return e.session, fmt.Errorf("failed to start encoder: %w", err)
	}

	e.proc = proc
	e.session.Status = domain.RecordingActive
	r.sessions[streamID] = e
	r.metrics.RecordRecording(domain.RecordingActive)

	go r.watch(e)

	r.logger.Infow("recording started",
		"stream_id", streamID,
		"recording_id", recordingID,
		"dir", dir,
	)
	return e.session, nil
}

// StartLive records the stream from the configured media taps.
func (r *Recorder) StartLive(ctx context.Context, streamID domain.StreamID) (domain.RecordingSession, error) {
	r.mu.RLock()
	taps := r.taps
	r.mu.RUnlock()
	if taps == nil {
		return domain.RecordingSession{StreamID: streamID, Status: domain.RecordingNotStarted}, domain.ErrSessionNotFound
	}
	return r.StartTapped(ctx, taps, streamID)
}

// StartTapped records the live media of the stream's peer session.
func (r *Recorder) StartTapped(ctx context.Context, taps MediaTaps, streamID domain.StreamID) (domain.RecordingSession, error) {
	input, err := TapSession(taps, streamID, defaultPacketBuffer, r.logger)
	if err != nil {
		return domain.RecordingSession{StreamID: streamID, Status: domain.RecordingNotStarted}, fmt.Errorf("failed to tap stream media: %w", err)
	}
	session, err := r.Start(ctx, streamID, input)
	if err != nil {
		input.Abort()
	}
	return session, err
}

// watch records how the encode worker ended.
func (r *Recorder) watch(e *entry) {
	<-e.proc.Done()
	err := e.proc.Err()

	r.mu.Lock()
	if e.session.Status == domain.RecordingActive {
		if e.stopping || err == nil {
			e.session.Status = domain.RecordingProcessing
			r.metrics.RecordRecording(domain.RecordingProcessing)
		} else {
			r.failLocked(e, fmt.Errorf("encoder exited: %w", err))
		}
	}
	stopping := e.stopping
	r.mu.Unlock()

	if err != nil && !stopping {
		abortInput(e.input)
		r.logger.Errorw("encoder exited unexpectedly",
			"stream_id", e.session.StreamID,
			"recording_id", e.id,
			"error", err,
		)
	}
	close(e.exited)
}

// Stop ends the encode worker, uploads the artifacts and returns the final
// session. Upload or encoder problems are reported through the session's
// FAILED status rather than the returned error.
func (r *Recorder) Stop(ctx context.Context, streamID domain.StreamID) (domain.RecordingSession, error) {
	r.mu.Lock()
	e, ok := r.sessions[streamID]
	if !ok || e.stopping || (e.session.Status != domain.RecordingActive && e.session.Status != domain.RecordingProcessing) {
		r.mu.Unlock()
		return domain.RecordingSession{}, domain.ErrRecordingNotFound
	}
	e.stopping = true
	r.mu.Unlock()

	ctx, span := tracing.TraceRecording(ctx, "stop", string(streamID), e.id)
	defer span.End()

	closeInput(e.input)
	e.proc.Cancel()

	timer := time.NewTimer(r.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-e.exited:
	case <-timer.C:
		abortInput(e.input)
		r.fail(e, domain.ErrRecordingNotReady)
		r.logger.Errorw("recording did not finish in time",
			"stream_id", streamID,
			"recording_id", e.id,
			"timeout", r.cfg.StopTimeout,
		)
		return r.snapshot(e), nil
	case <-ctx.Done():
		abortInput(e.input)
		r.fail(e, ctx.Err())
		return r.snapshot(e), ctx.Err()
	}

	if s := r.snapshot(e); s.Status != domain.RecordingProcessing {
		return s, nil
	}

	if err := r.finalize(ctx, e); err != nil {
		tracing.RecordError(ctx, err)
		r.fail(e, err)
		r.logger.Errorw("recording failed",
			"stream_id", streamID,
			"recording_id", e.id,
			"error", err,
		)
		if ctx.Err() != nil {
			return r.snapshot(e), ctx.Err()
		}
	}
	return r.snapshot(e), nil
}

func (r *Recorder) finalize(ctx context.Context, e *entry) error {
	r.mu.RLock()
	chat := r.chat
	started := e.session.StartedAt
	dir := e.session.LocalPath
	streamID := e.session.StreamID
	ended := r.now()
	r.mu.RUnlock()

	if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
		return fmt.Errorf("encoder produced no manifest: %w", err)
	}

	withCaptions := false
	if r.cfg.Captions && chat != nil {
		if err := r.writeCaptions(ctx, chat, streamID, dir, started, ended); err != nil {
			r.logger.Warnw("failed to write captions",
				"stream_id", streamID,
				"error", err,
			)
		} else {
			withCaptions = true
		}
	}

	layer, _ := domain.Layer(domain.LayerHigh)
	if err := os.WriteFile(filepath.Join(dir, MasterName), []byte(masterPlaylist(layer, withCaptions)), 0o644); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}

	prefix := path.Join(r.cfg.KeyPrefix, string(streamID), started.UTC().Format("20060102T150405Z")) + "/"
	expires := ended.Add(r.cfg.Retention)

	uploadStart := time.Now()
	keys, size, err := r.upload(ctx, e, dir, prefix, expires)

	r.mu.Lock()
	defer r.mu.Unlock()

	e.keys = keys
	e.session.KeyPrefix = prefix
	e.session.EndedAt = ended
	e.session.ExpiresAt = expires
	e.session.Duration = ended.Sub(started)
	if err != nil {
		return err
	}

	r.metrics.RecordUpload(time.Since(uploadStart), size)
	e.session.Status = domain.RecordingCompleted
	e.session.SizeBytes = size
	e.session.URL = r.storage.PublicURL(prefix + MasterName)
	if withCaptions {
		e.session.CaptionsURL = r.storage.PublicURL(prefix + CaptionsName)
	}
	r.metrics.RecordRecording(domain.RecordingCompleted)

	r.logger.Infow("recording completed",
		"stream_id", streamID,
		"recording_id", e.id,
		"url", e.session.URL,
		"size_bytes", size,
		"duration", utils.FormatDuration(e.session.Duration),
		"expires_at", expires,
	)
	return nil
}

func (r *Recorder) writeCaptions(ctx context.Context, chat ports.ChatHistory, streamID domain.StreamID, dir string, from, to time.Time) error {
	messages, err := chat.Range(ctx, streamID, from, to)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}
	vtt := buildWebVTT(messages, from, to, r.cfg.CaptionCueDuration)
	if err := os.WriteFile(filepath.Join(dir, CaptionsName), vtt, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, CaptionsPlaylistName), []byte(captionsPlaylist(to.Sub(from))), 0o644)
}

// upload puts every file in dir under prefix. It returns the keys that were
// written even on failure so they can be cleaned up later.
func (r *Recorder) upload(ctx context.Context, e *entry, dir, prefix string, expires time.Time) ([]string, int64, error) {
	ctx, span := tracing.TraceRecording(ctx, "upload", string(e.session.StreamID), e.id)
	defer span.End()

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var (
		mu    sync.Mutex
		keys  []string
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.UploadWorkers)

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		key := prefix + name
		g.Go(func() error {
			n, err := r.putFile(gctx, filepath.Join(dir, name), key, expires)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", name, err)
			}
			mu.Lock()
			keys = append(keys, key)
			total += n
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	return keys, total, err
}

func (r *Recorder) putFile(ctx context.Context, file, key string, expires time.Time) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if err := r.storage.Put(ctx, key, f, info.Size(), contentType(key), expires); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Status returns the current or most recent session for a stream.
func (r *Recorder) Status(streamID domain.StreamID) (domain.RecordingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[streamID]
	if !ok {
		return domain.RecordingSession{StreamID: streamID, Status: domain.RecordingNotStarted}, domain.ErrRecordingNotFound
	}
	return e.session, nil
}

// CleanupExpired removes the artifacts of sessions past their expiry and
// forgets them once the grace period has also passed.
func (r *Recorder) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := tracing.TraceRecording(ctx, "cleanup", "", "")
	defer span.End()

	now := r.clock()

	r.mu.RLock()
	var due []*entry
	for _, e := range r.sessions {
		if expired(e, now) {
			due = append(due, e)
		}
	}
	for _, e := range r.retired {
		if expired(e, now) {
			due = append(due, e)
		}
	}
	r.mu.RUnlock()

	var errs []error
	cleaned := 0
	for _, e := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.removeArtifacts(ctx, e); err != nil {
			errs = append(errs, err)
			continue
		}
		cleaned++

		r.mu.Lock()
		e.keys = nil
		e.session.LocalPath = ""
		if e.session.Status == domain.RecordingCompleted {
			e.session.Status = domain.RecordingExpired
			e.session.URL = ""
			e.session.CaptionsURL = ""
			r.metrics.RecordRecording(domain.RecordingExpired)
		}
		r.mu.Unlock()

		r.logger.Infow("recording expired",
			"stream_id", e.session.StreamID,
			"recording_id", e.id,
		)
	}

	r.forget(now)
	return cleaned, errors.Join(errs...)
}

// expired reports whether e still holds artifacts that should be removed.
// FAILED sessions without an expiry are collected after their end time.
func expired(e *entry, now time.Time) bool {
	switch e.session.Status {
	case domain.RecordingCompleted, domain.RecordingFailed:
	default:
		return false
	}
	if e.session.LocalPath == "" && len(e.keys) == 0 {
		return false
	}
	deadline := e.session.ExpiresAt
	if deadline.IsZero() {
		deadline = e.session.EndedAt
	}
	return !deadline.IsZero() && !now.Before(deadline)
}

func (r *Recorder) removeArtifacts(ctx context.Context, e *entry) error {
	r.mu.RLock()
	dir := e.session.LocalPath
	keys := append([]string(nil), e.keys...)
	r.mu.RUnlock()

	for _, key := range keys {
		if err := r.storage.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	if dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	return nil
}

func (r *Recorder) forget(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	gone := func(e *entry) bool {
		if e.session.Status != domain.RecordingExpired && e.session.Status != domain.RecordingFailed {
			return false
		}
		if e.session.LocalPath != "" || len(e.keys) > 0 {
			return false
		}
		deadline := e.session.ExpiresAt
		if deadline.IsZero() {
			deadline = e.session.EndedAt
		}
		return !now.Before(deadline.Add(r.cfg.ExpiredGrace))
	}

	for id, e := range r.sessions {
		if gone(e) {
			delete(r.sessions, id)
		}
	}
	kept := r.retired[:0]
	for _, e := range r.retired {
		if !gone(e) {
			kept = append(kept, e)
		}
	}
	r.retired = kept
}

// Run cleans up expired recordings until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.CleanupExpired(ctx); err != nil {
				r.logger.Warnw("recording cleanup incomplete", "cleaned", n, "error", err)
			} else if n > 0 {
				r.logger.Infow("recording cleanup", "cleaned", n)
			}
		}
	}
}

// Shutdown stops every active recording.
func (r *Recorder) Shutdown(ctx context.Context) {
	r.mu.RLock()
	var active []domain.StreamID
	for id, e := range r.sessions {
		if !e.stopping && (e.session.Status == domain.RecordingActive || e.session.Status == domain.RecordingProcessing) {
			active = append(active, id)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range active {
		wg.Add(1)
		go func(id domain.StreamID) {
			defer wg.Done()
			s, err := r.Stop(ctx, id)
			if err != nil && !errors.Is(err, domain.ErrRecordingNotFound) {
				r.logger.Warnw("failed to stop recording on shutdown", "stream_id", id, "error", err)
				return
			}
			r.logger.Infow("recording stopped on shutdown", "stream_id", id, "status", s.Status)
		}(id)
	}
	wg.Wait()
}

func (r *Recorder) fail(e *entry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(e, err)
}

func (r *Recorder) failLocked(e *entry, err error) {
	if e.session.Terminal() {
		return
	}
	e.session.Status = domain.RecordingFailed
	e.session.Error = err.Error()
	if e.session.EndedAt.IsZero() {
		e.session.EndedAt = r.now()
	}
	r.metrics.RecordRecording(domain.RecordingFailed)
}

func (r *Recorder) snapshot(e *entry) domain.RecordingSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.session
}

func closeInput(input io.Reader) {
	if c, ok := input.(io.Closer); ok {
		_ = c.Close()
	}
}

func abortInput(input io.Reader) {
	if a, ok := input.(interface{ Abort() }); ok {
		a.Abort()
		return
	}
	closeInput(input)
}
