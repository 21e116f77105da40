package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/listen"
	"github.com/itttm127/speech-to-text/internal/speech/engine"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
	"github.com/itttm127/speech-to-text/pkg/profile"
)

type fakeEngine struct {
	mu     sync.Mutex
	config map[string]string
	closed bool
}

func (f *fakeEngine) Transcribe(_ context.Context, _ []byte, _ engine.Options) (engine.Result, error) {
	return engine.Result{Text: "ok", Confidence: 0.9}, nil
}

func (f *fakeEngine) Models() []engine.ModelInfo {
	return []engine.ModelInfo{{ID: "fake", IsDefault: true}}
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var (
	engineMu   sync.Mutex
	lastEngine *fakeEngine
)

func init() {
	registry.Engines.Register("manager-test", func(config map[string]string) (engine.Transcriber, error) {
		eng := &fakeEngine{config: config}
		engineMu.Lock()
		lastEngine = eng
		engineMu.Unlock()
		return eng, nil
	})
}

func createdEngine() *fakeEngine {
	engineMu.Lock()
	defer engineMu.Unlock()
	return lastEngine
}

type fakeAnalyser struct{}

func (fakeAnalyser) Samples(dst []float64) int {
	for i := range dst {
		dst[i] = 0
	}
	return len(dst)
}

type fakeDevice struct {
	mu     sync.Mutex
	closed bool
}

func (d *fakeDevice) OnData(func(capture.Chunk)) {}

func (d *fakeDevice) Start(time.Duration) error { return nil }

func (d *fakeDevice) Stop() error { return nil }

func (d *fakeDevice) Codec() string { return "audio/pcm;rate=16000" }

func (d *fakeDevice) Analyser() capture.Analyser { return fakeAnalyser{} }

func (d *fakeDevice) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func testManager(t *testing.T, profiles *profile.Loader) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Defaults:       listen.DefaultConfig(),
		Constraints:    capture.DefaultConstraints(),
		DefaultBackend: "manager-test",
		AcquireTimeout: 200 * time.Millisecond,
		SessionTTL:     time.Minute,
	}
	return NewManager(cfg, profiles, nil, nil, nil)
}

func waitState(t *testing.T, s *Session, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Controller.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session state = %q, want %q", s.Controller.State(), want)
}

func TestManagerCreateAndAttach(t *testing.T) {
	m := testManager(t, nil)

	s, err := m.Create(t.Context(), CreateOptions{Transport: "websocket"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Controller.State() != listen.StatePending {
		t.Errorf("state = %q, want %q", s.Controller.State(), listen.StatePending)
	}
	if s.Backend != "manager-test" {
		t.Errorf("backend = %q, want manager-test", s.Backend)
	}

	got, ok := m.Get(s.ID)
	if !ok || got.ID != s.ID {
		t.Fatal("Get should find the created session")
	}
	if len(m.List()) != 1 {
		t.Errorf("List() returned %d sessions, want 1", len(m.List()))
	}

	dev := &fakeDevice{}
	if err := m.Attach(s.ID, dev); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	waitState(t, s, listen.StateListening)

	if _, err := m.Stop(t.Context(), s.ID, "client"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Controller.State() != listen.StateStopped {
		t.Errorf("state after stop = %q", s.Controller.State())
	}
	if dev.IsActive() {
		t.Error("stop should close the capture device")
	}
	if !createdEngine().isClosed() {
		t.Error("stop should close the engine")
	}
	if _, ok := m.Get(s.ID); ok {
		t.Error("stopped session should leave the active set")
	}
}

func TestManagerCreateUnknownBackend(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.Create(t.Context(), CreateOptions{Backend: "missing"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("error = %v, want unknown backend", err)
	}
}

func TestManagerAttachUnknownSession(t *testing.T) {
	m := testManager(t, nil)

	err := m.Attach("nope", &fakeDevice{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Attach error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerSecondAttachRejected(t *testing.T) {
	m := testManager(t, nil)

	s, err := m.Create(t.Context(), CreateOptions{Transport: "websocket"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Stop(t.Context(), s.ID, "test")

	if err := m.Attach(s.ID, &fakeDevice{}); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	err = m.Attach(s.ID, &fakeDevice{})
	if !errors.Is(err, capture.ErrAlreadyAttached) {
		t.Errorf("second Attach error = %v, want ErrAlreadyAttached", err)
	}
}

func TestManagerStopUnknownSession(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.Stop(t.Context(), "nope", "test")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Stop error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerUnfulfilledSessionFails(t *testing.T) {
	m := testManager(t, nil)

	s, err := m.Create(t.Context(), CreateOptions{Transport: "websocket"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No transport ever attaches; acquisition times out and the session
	// removes itself.
	waitState(t, s, listen.StateFailed)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Get(s.ID); !ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Error("failed session should leave the active set")
}

func TestManagerProfileSelection(t *testing.T) {
	dir := t.TempDir()
	data := []byte("name: meeting\nbackend: manager-test\nmodel: fake-large\nlanguage: de\nthreshold: 42\nsilence_ms: 900\n")
	if err := os.WriteFile(filepath.Join(dir, "meeting.yaml"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loader := profile.NewLoader(dir)
	if _, err := loader.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	m := testManager(t, loader)

	s, err := m.Create(t.Context(), CreateOptions{Profile: "meeting", Transport: "webrtc"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Stop(t.Context(), s.ID, "test")

	if s.Profile != "meeting" {
		t.Errorf("profile = %q, want meeting", s.Profile)
	}
	if s.Options.Model != "fake-large" {
		t.Errorf("model = %q, want fake-large", s.Options.Model)
	}
	if s.Options.Language != "de" {
		t.Errorf("language = %q, want de", s.Options.Language)
	}
}

func TestManagerUnknownProfile(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.Create(t.Context(), CreateOptions{Profile: "missing"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Create error = %v, want profile not found", err)
	}
}

func TestManagerRequestOverridesProfile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("name: dictation\nbackend: manager-test\nmodel: fake-small\nlanguage: en\ntranslate: true\n")
	if err := os.WriteFile(filepath.Join(dir, "dictation.yaml"), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loader := profile.NewLoader(dir)
	if _, err := loader.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	m := testManager(t, loader)

	noTranslate := false
	s, err := m.Create(t.Context(), CreateOptions{
		Profile:   "dictation",
		Model:     "fake-xl",
		Translate: &noTranslate,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Stop(t.Context(), s.ID, "test")

	if s.Options.Model != "fake-xl" {
		t.Errorf("model = %q, want request override fake-xl", s.Options.Model)
	}
	if s.Options.Language != "en" {
		t.Errorf("language = %q, want profile fallback en", s.Options.Language)
	}
	if s.Options.Translate {
		t.Error("request should override the profile's translate flag")
	}
}

func TestManagerReapsIdleSessions(t *testing.T) {
	m := testManager(t, nil)
	m.cfg.SessionTTL = time.Millisecond

	s, err := m.Create(t.Context(), CreateOptions{Transport: "websocket"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Attach(s.ID, &fakeDevice{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	waitState(t, s, listen.StateListening)

	time.Sleep(10 * time.Millisecond)
	m.reapIdleSessions(t.Context())

	if _, ok := m.Get(s.ID); ok {
		t.Error("idle session should be reaped")
	}
	if s.Controller.State() != listen.StateStopped {
		t.Errorf("reaped session state = %q, want stopped", s.Controller.State())
	}
}

func TestMergeListenConfig(t *testing.T) {
	base := listen.DefaultConfig()

	merged := mergeListenConfig(base, &profile.Profile{Threshold: 50, SilenceMs: 2000})
	if merged.Threshold != 50 {
		t.Errorf("threshold = %d, want 50", merged.Threshold)
	}
	if merged.SilenceDuration != 2*time.Second {
		t.Errorf("silence = %v, want 2s", merged.SilenceDuration)
	}
	if merged.Grace != base.Grace {
		t.Errorf("grace = %v, want default %v", merged.Grace, base.Grace)
	}

	if got := mergeListenConfig(base, nil); got != base {
		t.Error("nil profile should leave defaults untouched")
	}
}
