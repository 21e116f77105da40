package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"

	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/runtime"
	"github.com/itttm127/speech-to-text/internal/speech/registry"
	"github.com/itttm127/speech-to-text/pkg/events"
	"github.com/itttm127/speech-to-text/pkg/profile"
	"github.com/itttm127/speech-to-text/pkg/transcript"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MiB

	defaultIngestCodec = "audio/opus"
	sseKeepalive       = 15 * time.Second
	closeWriteWait     = time.Second
)

// SessionHandler serves the session REST surface: lifecycle, transcripts,
// the event stream, and the two capture transports.
type SessionHandler struct {
	manager   *runtime.Manager
	store     *transcript.Repository
	profiles  *profile.Loader
	publisher *events.Publisher
	pool      workerpool.WorkerPool

	backendConfig map[string]string
	rtcAPI        *webrtc.API
	rtcConfig     webrtc.Configuration
	upgrader      websocket.Upgrader
}

// SessionHandlerConfig wires the handler's collaborators. Store, profiles,
// and publisher may each be nil, mirroring the session manager.
type SessionHandlerConfig struct {
	Manager       *runtime.Manager
	Store         *transcript.Repository
	Profiles      *profile.Loader
	Publisher     *events.Publisher
	Pool          workerpool.WorkerPool
	BackendConfig map[string]string
	STUNServers   []string
}

// NewSessionHandler creates the session API handler.
func NewSessionHandler(cfg SessionHandlerConfig) *SessionHandler {
	var rtcConfig webrtc.Configuration
	if len(cfg.STUNServers) > 0 {
		rtcConfig.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	return &SessionHandler{
		manager:       cfg.Manager,
		store:         cfg.Store,
		profiles:      cfg.Profiles,
		publisher:     cfg.Publisher,
		pool:          cfg.Pool,
		backendConfig: cfg.BackendConfig,
		rtcAPI:        capture.NewWebRTCAPI(),
		rtcConfig:     rtcConfig,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all session API routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/v1/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/transcript", h.GetTranscript)
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", h.StreamEvents)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ingest", h.Ingest)
	mux.HandleFunc("POST /api/v1/sessions/{id}/offer", h.Offer)
	mux.HandleFunc("GET /api/v1/backends", h.ListBackends)
	mux.HandleFunc("GET /api/v1/profiles", h.ListProfiles)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func liveSessionResponse(s *runtime.Session, includeTranscript bool) SessionResponse {
	resp := SessionResponse{
		ID:         s.ID,
		State:      s.Controller.State(),
		Transport:  s.Transport,
		Backend:    s.Backend,
		Profile:    s.Profile,
		Model:      s.Options.Model,
		Language:   s.Options.Language,
		Translate:  s.Options.Translate,
		Level:      s.Controller.Level(),
		Utterances: len(s.Controller.Segments()),
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
	}
	if includeTranscript {
		resp.Transcript = s.Controller.Transcript()
	}
	return resp
}

func storedSessionResponse(rec *transcript.ListenSession, includeTranscript bool) SessionResponse {
	resp := SessionResponse{
		ID:         rec.ID,
		State:      rec.State,
		Transport:  rec.Transport,
		Backend:    rec.Backend,
		Profile:    rec.Profile,
		Language:   rec.Language,
		Utterances: rec.Utterances,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.StoppedAt.Valid {
		resp.StoppedAt = rec.StoppedAt.Time.Format(time.RFC3339)
	}
	if includeTranscript {
		resp.Transcript = rec.Transcript
	}
	return resp
}

// CreateSession handles POST /api/v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	transport := req.Transport
	if transport == "" {
		transport = "websocket"
	}

	s, err := h.manager.Create(r.Context(), runtime.CreateOptions{
		Profile:   req.Profile,
		Transport: transport,
		Backend:   req.Backend,
		Model:     req.Model,
		Language:  req.Language,
		Translate: req.Translate,
	})
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "persist session") {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, liveSessionResponse(s, false))
}

// ListSessions handles GET /api/v1/sessions. Active sessions come first,
// newest created; stored history follows when a store is configured.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	active := h.manager.List()
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})

	resp := make([]SessionResponse, 0, len(active))
	seen := make(map[string]bool, len(active))
	for _, s := range active {
		resp = append(resp, liveSessionResponse(s, false))
		seen[s.ID] = true
	}

	if h.store != nil {
		recs, err := h.store.ListSessions(r.Context(), 50, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		for i := range recs {
			if seen[recs[i].ID] {
				continue
			}
			resp = append(resp, storedSessionResponse(&recs[i], false))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s, ok := h.manager.Get(id); ok {
		writeJSON(w, http.StatusOK, liveSessionResponse(s, true))
		return
	}
	if h.store != nil {
		if rec, err := h.store.GetSession(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, storedSessionResponse(rec, true))
			return
		}
	}
	writeError(w, http.StatusNotFound, "session not found")
}

// DeleteSession handles DELETE /api/v1/sessions/{id}. An active session is
// stopped and answered with its final state and transcript; a stored one is
// purged.
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s, err := h.manager.Stop(r.Context(), id, "client"); err == nil {
		writeJSON(w, http.StatusOK, liveSessionResponse(s, true))
		return
	}

	if h.store != nil {
		if _, err := h.store.GetSession(r.Context(), id); err == nil {
			if err := h.store.DeleteSession(r.Context(), id); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to delete session")
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	writeError(w, http.StatusNotFound, "session not found")
}

// GetTranscript handles GET /api/v1/sessions/{id}/transcript
func (h *SessionHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s, ok := h.manager.Get(id); ok {
		segs := s.Controller.Segments()
		resp := TranscriptResponse{
			SessionID:  id,
			Transcript: s.Controller.Transcript(),
			Utterances: make([]UtteranceResponse, 0, len(segs)),
		}
		for _, seg := range segs {
			resp.Utterances = append(resp.Utterances, UtteranceResponse{
				Seq:        seg.Seq,
				Text:       seg.Text,
				Confidence: seg.Confidence,
				Language:   seg.Language,
				DurationMs: seg.Duration.Milliseconds(),
			})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if h.store != nil {
		if rec, err := h.store.GetSession(r.Context(), id); err == nil {
			utts, err := h.store.ListUtterances(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list utterances")
				return
			}
			resp := TranscriptResponse{
				SessionID:  id,
				Transcript: rec.Transcript,
				Utterances: make([]UtteranceResponse, 0, len(utts)),
			}
			for _, u := range utts {
				resp.Utterances = append(resp.Utterances, UtteranceResponse{
					Seq:        u.Seq,
					Text:       u.Text,
					Confidence: u.Confidence,
					Language:   u.Language,
					DurationMs: u.DurationMs,
				})
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	writeError(w, http.StatusNotFound, "session not found")
}

// StreamEvents handles GET /api/v1/sessions/{id}/events. It serves the
// session's bus events over SSE until the client disconnects or the session
// stops.
func (h *SessionHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.publisher == nil {
		writeError(w, http.StatusNotFound, "event streaming disabled")
		return
	}
	if _, ok := h.manager.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subID := xid.New().String()
	ch := h.publisher.Subscribe(subID, id, 64)
	defer h.publisher.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, payload)
			flusher.Flush()
			if env.Type == events.SessionStopped {
				return
			}
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// Ingest handles GET /api/v1/sessions/{id}/ingest. The connection upgrades
// to a WebSocket carrying binary chunk frames upstream; JSON control frames
// drive the client recorder. The optional codec query parameter defaults to
// audio/opus.
func (h *SessionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.manager.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	codecType := r.URL.Query().Get("codec")
	if codecType == "" {
		codecType = defaultIngestCodec
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}

	var writeMu sync.Mutex
	control := func(kind string, interval time.Duration) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(controlFrame{Type: kind, IntervalMs: interval.Milliseconds()})
	}

	device, err := capture.NewStreamDevice(codecType, control)
	if err != nil {
		h.closeWith(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}

	if err := h.manager.Attach(id, device); err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	slog.DebugContext(r.Context(), "handler: ingest attached",
		slog.String("session", id),
		slog.String("codec", codecType))

	// Session stop closes the device; close the socket with it so the
	// client sees EOF instead of a dead connection.
	closer := func() {
		<-device.Done()
		conn.Close()
	}
	if h.pool != nil {
		if err := h.pool.Submit(r.Context(), closer); err != nil {
			go closer()
		}
	} else {
		go closer()
	}

	defer func() {
		device.Close()
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			device.Push(data)
		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if frame.Type == "flushed" {
				device.FlushDone()
			}
		}
	}
}

func (h *SessionHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeWriteWait))
	conn.Close()
}

// Offer handles POST /api/v1/sessions/{id}/offer. It builds a receive-only
// peer for the session's audio track and answers the SDP offer once ICE
// gathering completes.
func (h *SessionHandler) Offer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")
	if _, ok := h.manager.Get(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SDP == "" {
		writeError(w, http.StatusBadRequest, "sdp is required")
		return
	}

	// The peer outlives the offer exchange; it closes itself on disconnect.
	peer, err := capture.NewPeer(context.Background(), id, h.rtcAPI, h.rtcConfig, h.pool, func(d *capture.TrackDevice) {
		if err := h.manager.Attach(id, d); err != nil {
			slog.Warn("handler: attach webrtc track",
				slog.String("session", id),
				slog.String("error", err.Error()))
			_ = d.Close()
		}
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create peer: "+err.Error())
		return
	}

	answer, err := peer.HandleOffer(req.SDP)
	if err != nil {
		peer.Close()
		writeError(w, http.StatusBadRequest, "negotiate: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, OfferResponse{Type: "answer", SDP: answer})
}

// ListBackends handles GET /api/v1/backends
func (h *SessionHandler) ListBackends(w http.ResponseWriter, r *http.Request) {
	names := registry.Engines.List()

	backends := make([]BackendResponse, 0, len(names))
	for _, name := range names {
		info := BackendResponse{Name: name}
		if eng, err := registry.Engines.Create(name, h.backendConfig); err == nil {
			for _, m := range eng.Models() {
				info.Models = append(info.Models, m.ID)
				if m.IsDefault {
					info.DefaultModel = m.ID
				}
			}
			eng.Close()
		}
		backends = append(backends, info)
	}

	writeJSON(w, http.StatusOK, backends)
}

// ListProfiles handles GET /api/v1/profiles
func (h *SessionHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	resp := make([]ProfileResponse, 0)
	if h.profiles != nil {
		for _, p := range h.profiles.All() {
			resp = append(resp, ProfileResponse{
				Name:      p.Name,
				Backend:   p.Backend,
				Model:     p.Model,
				Language:  p.Language,
				Translate: p.Translate,
			})
		}
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Name < resp[j].Name })
	writeJSON(w, http.StatusOK, resp)
}
