// Package app builds the SafetyBuddy object graph from configuration. Both
// the API server and the sosctl command line use it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"safetybuddy/internal/alert"
	"safetybuddy/internal/classifier"
	"safetybuddy/internal/config"
	"safetybuddy/internal/eventbus"
	"safetybuddy/internal/httpapi"
	"safetybuddy/internal/observability"
	"safetybuddy/internal/orchestrator"
	"safetybuddy/internal/signals"
	"safetybuddy/internal/store"
	"safetybuddy/internal/stress"
	"safetybuddy/internal/transcode"
	"safetybuddy/internal/transcription"
	"safetybuddy/internal/upstream/huggingface"
	"safetybuddy/internal/upstream/openai"
	"safetybuddy/internal/upstream/sendgrid"
	"safetybuddy/internal/upstream/twilio"
)

type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Store        store.Store
	Bus          eventbus.Publisher
	STT          *openai.Client
	Orchestrator *orchestrator.Service
}

func NewLogger(level string, w io.Writer) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel}))
}

func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// OpenStore returns Postgres when DATABASE_URL is set and an in-memory
// store otherwise.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, store.PostgresConfig{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    max(1, cfg.DBMaxOpenConns/2),
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    cfg.DBQueryTimeout,
	}, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	metrics := observability.NewMetrics()
	httpClient := NewHTTPClient(cfg.RequestTimeout)

	stt := openai.New(cfg.STTBaseURL, cfg.STTAPIKey, httpClient, openai.WithObserver(metrics.UpstreamObserver("openai")))
	transcriber := transcription.New(stt, cfg.TranscriptionModel, cfg.TranscriptionTimeout,
		transcription.WithLanguage(cfg.TranscriptionLanguage))

	affect, situational := buildClassifiers(cfg, stt, httpClient, metrics)
	aggregator := signals.NewAggregator(affect, situational, cfg.ClassifierConcurrency, logger.With("component", "signals"))

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var bus eventbus.Publisher = eventbus.Nop{}
	if cfg.AMQPURL != "" {
		amqpBus, err := eventbus.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue, 5*time.Second, logger.With("component", "eventbus"))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		bus = amqpBus
	}

	dispatcher := buildDispatcher(cfg, httpClient, metrics, logger)

	svc, err := orchestrator.New(orchestrator.Dependencies{
		Transcoder:    transcode.NewFFmpeg(cfg.FFmpegPath, cfg.TranscodeTimeout),
		Transcriber:   transcriber,
		Stress:        stress.NewEstimator(),
		Signals:       aggregator,
		Keywords:      signals.NewKeywordMatcher(cfg.Keywords),
		Contacts:      st,
		Events:        st,
		Alerts:        dispatcher,
		Bus:           bus,
		Observer:      metrics,
		Logger:        logger.With("component", "orchestrator"),
		TempDir:       cfg.TempDir,
		ChunkMaxChars: cfg.ChunkMaxChars,
	})
	if err != nil {
		_ = bus.Close()
		_ = st.Close()
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Store:        st,
		Bus:          bus,
		STT:          stt,
		Orchestrator: svc,
	}, nil
}

func (a *App) Handler() http.Handler {
	return httpapi.NewServer(a.Config, a.Logger, httpapi.Dependencies{
		Processor:      a.Orchestrator,
		Events:         a.Store,
		Store:          a.Store,
		Upstream:       a.STT,
		Metrics:        a.Metrics,
		MetricsHandler: a.Metrics.Handler(),
	})
}

func (a *App) Close() error {
	return errors.Join(a.Bus.Close(), a.Store.Close())
}

func buildClassifiers(cfg config.Config, chat classifier.ChatClient, httpClient *http.Client, metrics *observability.Metrics) (classifier.Classifier, classifier.Classifier) {
	if cfg.ClassifierBackend == config.BackendChat {
		labeler := classifier.NewChatLabeler(chat, cfg.ChatModel, cfg.ClassifierTimeout)
		return labeler, labeler
	}
	hf := huggingface.New(cfg.HFBaseURL, cfg.HFAPIToken, httpClient, huggingface.WithObserver(metrics.UpstreamObserver("huggingface")))
	return hf.Model(cfg.AffectModel, cfg.ClassifierTimeout), hf.Model(cfg.ContextModel, cfg.ClassifierTimeout)
}

// buildDispatcher leaves a channel nil when its credentials are missing so
// every attempt on it is reported as a failed outcome.
func buildDispatcher(cfg config.Config, httpClient *http.Client, metrics *observability.Metrics, logger *slog.Logger, twilioOpts ...twilio.Option) *alert.Dispatcher {
	channel := alert.ChannelSMS
	if cfg.MessagingChannel == config.ChannelWhatsApp {
		channel = alert.ChannelWhatsApp
	}

	var messenger alert.Messenger
	if cfg.TwilioConfigured() {
		opts := append([]twilio.Option{twilio.WithObserver(metrics.UpstreamObserver("twilio"))}, twilioOpts...)
		tw := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, opts...)
		if channel == alert.ChannelWhatsApp {
			messenger = tw.WhatsApp(cfg.TwilioWhatsAppNumber)
		} else {
			messenger = tw.SMS(cfg.TwilioPhoneNumber)
		}
	} else {
		logger.Warn("twilio not configured, messaging alerts will fail")
	}

	var mailer alert.Mailer
	if cfg.SendGridConfigured() {
		mailer = sendgrid.New(cfg.SendGridBaseURL, cfg.SendGridAPIKey, cfg.SendGridSenderEmail, httpClient,
			sendgrid.WithObserver(metrics.UpstreamObserver("sendgrid")))
	} else {
		logger.Warn("sendgrid not configured, email alerts will fail")
	}

	return alert.NewDispatcher(messenger, channel, mailer,
		alert.WithTimeout(cfg.AlertTimeout),
		alert.WithConcurrency(cfg.AlertConcurrency),
		alert.WithLogger(logger.With("component", "alert")),
	)
}

// Describe summarises the wiring for the startup log line.
func (a *App) Describe() []any {
	storeKind := "memory"
	if a.Config.DatabaseURL != "" {
		storeKind = "postgres"
	}
	busKind := "none"
	if a.Config.AMQPURL != "" {
		busKind = fmt.Sprintf("amqp:%s", a.Config.AMQPQueue)
	}
	return []any{
		"classifier_backend", a.Config.ClassifierBackend,
		"store", storeKind,
		"event_bus", busKind,
		"messaging_channel", a.Config.MessagingChannel,
	}
}
