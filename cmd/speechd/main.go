package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"

	sttconfig "github.com/itttm127/speech-to-text/config"
	"github.com/itttm127/speech-to-text/internal/capture"
	"github.com/itttm127/speech-to-text/internal/httputil"
	"github.com/itttm127/speech-to-text/internal/listen"
	"github.com/itttm127/speech-to-text/internal/runtime"
	speechhandler "github.com/itttm127/speech-to-text/internal/speech/handler"
	"github.com/itttm127/speech-to-text/pkg/events"
	"github.com/itttm127/speech-to-text/pkg/notify"
	notifyapi "github.com/itttm127/speech-to-text/pkg/notify/api"
	"github.com/itttm127/speech-to-text/pkg/profile"
	"github.com/itttm127/speech-to-text/pkg/transcript"

	// Register transcription backends via init().
	_ "github.com/itttm127/speech-to-text/internal/speech/backends/deepgram"
	_ "github.com/itttm127/speech-to-text/internal/speech/backends/elevenlabs"
	_ "github.com/itttm127/speech-to-text/internal/speech/backends/google"
	_ "github.com/itttm127/speech-to-text/internal/speech/backends/openai"
	_ "github.com/itttm127/speech-to-text/internal/speech/backends/whisper"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[sttconfig.SpeechdConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("speechd"),
		frame.WithRegisterServerOauth2Client(),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	// Obtain the frame authenticator for JWT validation.
	authenticator := srv.SecurityManager().GetAuthenticator(ctx)

	pub := events.NewPublisher(srv.QueueManager(), "speechd", eventRef)

	// --- Profiles ---
	profiles := profile.NewLoader(cfg.ProfileDir)
	if _, err := profiles.LoadAll(); err != nil {
		log.Printf("warning: loading profiles: %v", err)
	}
	_ = pool.Submit(ctx, func() {
		if err := profiles.WatchAndReload(ctx.Done()); err != nil {
			log.Printf("warning: profile watcher: %v", err)
		}
	})

	// --- Persistence ---
	store := transcript.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)

	// --- Sessions ---
	backendConfig := map[string]string{
		"whisper_url":        cfg.WhisperServerURL,
		"openai_api_key":     cfg.OpenAIAPIKey,
		"openai_base_url":    cfg.OpenAIBaseURL,
		"deepgram_api_key":   cfg.DeepgramAPIKey,
		"google_api_key":     cfg.GoogleAPIKey,
		"elevenlabs_api_key": cfg.ElevenLabsAPIKey,
	}
	manager := runtime.NewManager(runtime.ManagerConfig{
		Defaults: listen.Config{
			Threshold:       cfg.SilenceThreshold,
			SilenceDuration: time.Duration(cfg.SilenceDurationMs) * time.Millisecond,
			Grace:           time.Duration(cfg.BoundaryGraceMs) * time.Millisecond,
			DataInterval:    time.Duration(cfg.DataIntervalMs) * time.Millisecond,
			MeterInterval:   time.Duration(cfg.MeterIntervalMs) * time.Millisecond,
			MinUtterance:    time.Duration(cfg.MinUtteranceMs) * time.Millisecond,
			FloorRMS:        cfg.SilenceFloorRMS,
			TargetRate:      16000,
		},
		Constraints:    capture.DefaultConstraints(),
		DefaultBackend: cfg.DefaultBackend,
		DefaultProfile: cfg.DefaultProfile,
		BackendConfig:  backendConfig,
		AcquireTimeout: cfg.AcquireTimeout(),
		SessionTTL:     cfg.SessionTTL(),
	}, profiles, store, pub, pool)

	// --- Event sinks ---
	sinkRepo := notify.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)
	deliverer := notify.NewDeliverer(sinkRepo, notify.DelivererConfig{
		MaxRetries:        cfg.SinkMaxRetries,
		TimeoutSec:        cfg.SinkTimeoutSec,
		BackoffInitialSec: cfg.SinkBackoffSec,
		BackoffMaxSec:     cfg.SinkBackoffMax,
		CBFailThreshold:   cfg.CBFailThreshold,
		CBResetTimeoutSec: cfg.CBResetTimeoutSec,
	}, pool)
	sinkSubscriber := &notify.Subscriber{
		Repo:      sinkRepo,
		Deliverer: deliverer,
		Pool:      pool,
	}
	seedSinks(ctx, sinkRepo, cfg.SinkURLs(), cfg.NotifySecret)

	// --- HTTP Mux: REST API behind frame authentication ---
	sessionHdlr := speechhandler.NewSessionHandler(speechhandler.SessionHandlerConfig{
		Manager:       manager,
		Store:         store,
		Profiles:      profiles,
		Publisher:     pub,
		Pool:          pool,
		BackendConfig: backendConfig,
		STUNServers:   cfg.StunURLs(),
	})
	sinkHdlr := notifyapi.NewHandler(sinkRepo, pub)

	apiMux := http.NewServeMux()
	sessionHdlr.RegisterRoutes(apiMux)
	sinkHdlr.RegisterRoutes(apiMux)

	mux := http.NewServeMux()
	mux.Handle("/api/", httputil.AuthMiddleware(apiMux, authenticator))

	// Start idle session reaper.
	manager.StartReaper(ctx)

	srv.Init(ctx,
		frame.WithRegisterSubscriber(eventRef+".sinks", eventURL, sinkSubscriber),
		frame.WithHTTPHandler(httputil.H2CHandler(httputil.LoggingMiddleware(mux))),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}

// seedSinks ensures a sink row exists for each env-configured URL. Seeded
// sinks subscribe to every event type except utterance.boundary.
func seedSinks(ctx context.Context, repo *notify.Repository, urls []string, secret string) {
	if len(urls) == 0 {
		return
	}

	existing, err := repo.ListAll(ctx)
	if err != nil {
		log.Printf("warning: listing sinks: %v", err)
		return
	}
	known := make(map[string]bool, len(existing))
	for i := range existing {
		known[existing[i].URL] = true
	}

	for _, u := range urls {
		if known[u] {
			continue
		}
		s := secret
		if s == "" {
			if s, err = notify.GenerateSecret(); err != nil {
				log.Printf("warning: generating sink secret: %v", err)
				continue
			}
		}
		sink := &notify.Sink{
			Name:   u,
			URL:    u,
			Secret: s,
			EventTypes: notify.EventTypesJSON{
				events.SessionStarted,
				events.SessionStopped,
				events.TranscriptFinal,
				events.EngineError,
				events.WebhookTest,
			},
			IsActive: true,
			MaxRPS:   10,
		}
		if err := repo.CreateSink(ctx, sink); err != nil {
			log.Printf("warning: seeding sink %s: %v", u, err)
		}
	}
}
