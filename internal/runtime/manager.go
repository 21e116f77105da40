package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"

	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/listen"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
	"github.com/itttm127/speech-to-text/pkg/events"
	"github.com/itttm127/speech-to-text/pkg/profile"
	"github.com/itttm127/speech-to-text/pkg/transcript"
)

const (
	reaperInterval = 1 * time.Minute
	// A stopped session's start context must outlive an in-flight
	// transcription; the backend HTTP timeout bounds how long that can be.
	drainWindow = 60 * time.Second
)

// errors
var (
	ErrSessionNotFound = &RuntimeError{"session not found"}
)

// RuntimeError is a simple error type for session management operations.
type RuntimeError struct {
	msg string
}

func (e *RuntimeError) Error() string { return e.msg }

// CreateOptions are per-request overrides layered over the selected profile.
type CreateOptions struct {
	Profile   string
	Transport string
	Backend   string
	Model     string
	Language  string
	Translate *bool
}

// Session pairs a live controller with its request metadata.
type Session struct {
	ID        string
	Transport string
	Backend   string
	Profile   string
	Options   engine.Options
	CreatedAt time.Time

	Controller *listen.Controller
	Provider   *capture.PendingProvider

	engine engine.Transcriber
	cancel context.CancelFunc

	mu      sync.Mutex
	touched time.Time
}

func (s *Session) touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// ManagerConfig carries the service-level session defaults.
type ManagerConfig struct {
	Defaults       listen.Config
	Constraints    capture.Constraints
	DefaultBackend string
	DefaultProfile string
	BackendConfig  map[string]string
	AcquireTimeout time.Duration
	SessionTTL     time.Duration
}

// Manager tracks active listening sessions. It builds each session's engine
// from the backend registry, persists its record and utterances, and reaps
// sessions idle past the TTL.
type Manager struct {
	cfg       ManagerConfig
	profiles  *profile.Loader
	store     *transcript.Repository
	publisher *events.Publisher
	pool      workerpool.WorkerPool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. The profile loader, store, and
// publisher may each be nil, which disables that concern.
func NewManager(cfg ManagerConfig, profiles *profile.Loader, store *transcript.Repository, pub *events.Publisher, pool workerpool.WorkerPool) *Manager {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	return &Manager{
		cfg:       cfg,
		profiles:  profiles,
		store:     store,
		publisher: pub,
		pool:      pool,
		sessions:  make(map[string]*Session),
	}
}

// Create builds a new session from the resolved profile plus request
// overrides and begins device acquisition in the background. The session is
// returned in the pending state; it starts listening once a transport
// attaches a capture device.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	prof, profName, err := m.resolveProfile(opts.Profile)
	if err != nil {
		return nil, err
	}

	backend := opts.Backend
	if backend == "" && prof != nil {
		backend = prof.Backend
	}
	if backend == "" {
		backend = m.cfg.DefaultBackend
	}

	engineCfg := make(map[string]string, len(m.cfg.BackendConfig))
	for k, v := range m.cfg.BackendConfig {
		engineCfg[k] = v
	}
	if prof != nil {
		for k, v := range prof.Config {
			engineCfg[k] = v
		}
	}

	eng, err := registry.Engines.Create(backend, engineCfg)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", backend, err)
	}

	engOpts := resolveOptions(opts, prof)
	lcfg := mergeListenConfig(m.cfg.Defaults, prof)

	id := xid.New().String()
	if m.store != nil {
		rec := &transcript.ListenSession{
			Transport: opts.Transport,
			Backend:   backend,
			Profile:   profName,
			Language:  engOpts.Language,
			State:     listen.StatePending,
		}
		rec.ID = id
		if err := m.store.CreateSession(ctx, rec); err != nil {
			eng.Close()
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	// The session outlives the create request; cancellation happens via Stop.
	sessionCtx, cancel := context.WithCancel(context.Background())

	provider := capture.NewPendingProvider(m.cfg.AcquireTimeout)
	s := &Session{
		ID:        id,
		Transport: opts.Transport,
		Backend:   backend,
		Profile:   profName,
		Options:   engOpts,
		CreatedAt: time.Now(),
		Provider:  provider,
		engine:    eng,
		cancel:    cancel,
		touched:   time.Now(),
	}

	s.Controller = listen.NewController(listen.ControllerConfig{
		ID:          id,
		Listen:      lcfg,
		Constraints: m.cfg.Constraints,
		Provider:    provider,
		Engine:      eng,
		Options:     engOpts,
		Pool:        m.pool,
		OnSegment:   func(ctx context.Context, seg listen.Segment) { m.onSegment(ctx, s, seg) },
		OnBoundary:  func(ctx context.Context) { m.onBoundary(ctx, s) },
		OnError:     func(ctx context.Context, err error) { m.onEngineError(ctx, s, err) },
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	start := func() {
		if err := s.Controller.Start(sessionCtx); err != nil {
			slog.WarnContext(sessionCtx, "runtime: session start failed",
				slog.String("session", id),
				slog.String("error", err.Error()))
			m.onEngineError(sessionCtx, s, err)
			m.remove(sessionCtx, s, "start_failed")
		}
	}
	if m.pool != nil {
		if err := m.pool.Submit(sessionCtx, start); err != nil {
			go start()
		}
	} else {
		go start()
	}

	if m.publisher != nil {
		_ = m.publisher.Emit(ctx, events.SessionStarted, id, events.SessionStartedData{
			Transport: opts.Transport,
			Backend:   backend,
			Profile:   profName,
		})
	}

	slog.InfoContext(ctx, "runtime: session created",
		slog.String("session", id),
		slog.String("backend", backend),
		slog.String("transport", opts.Transport))
	return s, nil
}

// Get returns an active session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the active sessions in no particular order.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Attach fulfills a pending session's capture provider with the transport's
// device. A second transport gets capture.ErrAlreadyAttached.
func (m *Manager) Attach(id string, device capture.Device) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.Provider.Fulfill(device); err != nil {
		return err
	}
	s.touch()
	return nil
}

// Stop ends a session, persists its final state, and emits session.stopped.
// An in-flight transcription finishes in the background and still lands in
// the stored transcript.
func (m *Manager) Stop(ctx context.Context, id string, reason string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	m.shutdown(ctx, s, reason)
	return s, nil
}

func (m *Manager) remove(ctx context.Context, s *Session, reason string) {
	m.mu.Lock()
	_, ok := m.sessions[s.ID]
	if ok {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()
	if ok {
		m.shutdown(ctx, s, reason)
	}
}

func (m *Manager) shutdown(ctx context.Context, s *Session, reason string) {
	wasPending := s.Controller.State() == listen.StatePending

	s.Controller.Cleanup(ctx)

	if wasPending {
		s.cancel()
	} else {
		// Keep the start context alive long enough for an in-flight
		// transcription to append before releasing it.
		time.AfterFunc(drainWindow, s.cancel)
	}

	segments := s.Controller.Segments()
	if m.store != nil {
		if rec, err := m.store.GetSession(ctx, s.ID); err == nil {
			rec.State = s.Controller.State()
			rec.StoppedAt.Time = time.Now()
			rec.StoppedAt.Valid = true
			if err := m.store.UpdateSession(ctx, rec); err != nil {
				slog.ErrorContext(ctx, "runtime: persist session stop",
					slog.String("session", s.ID),
					slog.String("error", err.Error()))
			}
		}
	}

	if m.publisher != nil {
		_ = m.publisher.Emit(ctx, events.SessionStopped, s.ID, events.SessionStoppedData{
			Reason:     reason,
			DurationMs: time.Since(s.CreatedAt).Milliseconds(),
			Utterances: len(segments),
		})
	}

	if err := s.engine.Close(); err != nil {
		slog.WarnContext(ctx, "runtime: close engine",
			slog.String("session", s.ID),
			slog.String("error", err.Error()))
	}
}

// StartReaper begins the background TTL reaper.
func (m *Manager) StartReaper(ctx context.Context) {
	reap := func() {
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdleSessions(ctx)
			}
		}
	}
	if m.pool != nil {
		_ = m.pool.Submit(ctx, reap)
	} else {
		go reap()
	}
}

func (m *Manager) reapIdleSessions(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if now.Sub(s.lastTouched()) > m.cfg.SessionTTL {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		slog.Warn("runtime: reaping idle session", slog.String("session", id))
		if _, err := m.Stop(ctx, id, "idle_ttl"); err != nil {
			slog.Warn("runtime: reap failed",
				slog.String("session", id),
				slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) onSegment(ctx context.Context, s *Session, seg listen.Segment) {
	s.touch()

	if m.store != nil {
		u := &transcript.Utterance{
			SessionID:  s.ID,
			Seq:        seg.Seq,
			Text:       seg.Text,
			Confidence: seg.Confidence,
			Language:   seg.Language,
			Samples:    seg.Samples,
			DurationMs: seg.Duration.Milliseconds(),
		}
		if err := m.store.AddUtterance(ctx, u); err != nil {
			slog.ErrorContext(ctx, "runtime: persist utterance",
				slog.String("session", s.ID),
				slog.String("error", err.Error()))
		}
	}

	if m.publisher != nil {
		_ = m.publisher.Emit(ctx, events.TranscriptFinal, s.ID, events.TranscriptFinalData{
			Seq:        seg.Seq,
			Transcript: seg.Text,
			Confidence: seg.Confidence,
			Language:   seg.Language,
			DurationMs: seg.Duration.Milliseconds(),
		})
	}
}

func (m *Manager) onBoundary(ctx context.Context, s *Session) {
	s.touch()
	if m.publisher != nil {
		_ = m.publisher.Emit(ctx, events.UtteranceBoundary, s.ID, events.UtteranceBoundaryData{
			Level: s.Controller.Level(),
		})
	}
}

func (m *Manager) onEngineError(ctx context.Context, s *Session, err error) {
	if m.publisher != nil {
		_ = m.publisher.Emit(ctx, events.EngineError, s.ID, events.EngineErrorData{
			Backend: s.Backend,
			Error:   err.Error(),
		})
	}
}

// resolveProfile maps a requested profile name to a loaded profile. A name
// the request asked for must exist; the configured default may be absent.
func (m *Manager) resolveProfile(requested string) (*profile.Profile, string, error) {
	if requested != "" {
		if m.profiles == nil {
			return nil, "", fmt.Errorf("profile %q not found", requested)
		}
		p, ok := m.profiles.Get(requested)
		if !ok {
			return nil, "", fmt.Errorf("profile %q not found", requested)
		}
		return p, requested, nil
	}
	if m.cfg.DefaultProfile != "" && m.profiles != nil {
		if p, ok := m.profiles.Get(m.cfg.DefaultProfile); ok {
			return p, m.cfg.DefaultProfile, nil
		}
	}
	return nil, "", nil
}

func resolveOptions(opts CreateOptions, prof *profile.Profile) engine.Options {
	out := engine.Options{
		Model:    opts.Model,
		Language: opts.Language,
	}
	if prof != nil {
		if out.Model == "" {
			out.Model = prof.Model
		}
		if out.Language == "" {
			out.Language = prof.Language
		}
		out.Translate = prof.Translate
	}
	if opts.Translate != nil {
		out.Translate = *opts.Translate
	}
	return out
}

// mergeListenConfig overlays a profile's non-zero tuning onto the defaults.
func mergeListenConfig(base listen.Config, prof *profile.Profile) listen.Config {
	if prof == nil {
		return base
	}
	if prof.Threshold > 0 {
		base.Threshold = prof.Threshold
	}
	if prof.SilenceMs > 0 {
		base.SilenceDuration = time.Duration(prof.SilenceMs) * time.Millisecond
	}
	if prof.GraceMs > 0 {
		base.Grace = time.Duration(prof.GraceMs) * time.Millisecond
	}
	if prof.MinUtteranceMs > 0 {
		base.MinUtterance = time.Duration(prof.MinUtteranceMs) * time.Millisecond
	}
	if prof.FloorRMS > 0 {
		base.FloorRMS = prof.FloorRMS
	}
	return base
}
