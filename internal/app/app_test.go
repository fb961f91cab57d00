package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"safetybuddy/internal/alert"
	"safetybuddy/internal/classifier"
	"safetybuddy/internal/config"
	"safetybuddy/internal/eventbus"
	"safetybuddy/internal/observability"
	"safetybuddy/internal/store"
	"safetybuddy/internal/upstream/twilio"
)

func baseConfig() config.Config {
	return config.Config{
		ListenAddr:            ":0",
		LogLevel:              "info",
		MaxUploadBytes:        1 << 20,
		RequestTimeout:        5 * time.Second,
		STTBaseURL:            "http://stt.invalid/v1",
		TranscriptionModel:    "whisper-large-v3",
		TranscriptionTimeout:  time.Second,
		ClassifierBackend:     config.BackendHuggingFace,
		HFBaseURL:             "http://hf.invalid",
		AffectModel:           "affect",
		ContextModel:          "context",
		ClassifierTimeout:     time.Second,
		ClassifierConcurrency: 2,
		ChunkMaxChars:         300,
		FFmpegPath:            "ffmpeg",
		TranscodeTimeout:      time.Second,
		DBMaxOpenConns:        2,
		DBQueryTimeout:        time.Second,
		MessagingChannel:      config.ChannelSMS,
		AlertTimeout:          time.Second,
		AlertConcurrency:      2,
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "k=v")
}

func TestBuildWithoutDatabaseUsesMemory(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, cfg.Validate())

	a, err := Build(context.Background(), cfg, NewLogger("error", io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &store.Memory{}, a.Store)
	assert.Equal(t, eventbus.Nop{}, a.Bus)
	assert.Contains(t, a.Describe(), "memory")

	h := a.Handler()
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/api/supervisor/events"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestBuildClassifiersChatBackend(t *testing.T) {
	cfg := baseConfig()
	cfg.ClassifierBackend = config.BackendChat
	cfg.ChatModel = "llama"

	affect, situational := buildClassifiers(cfg, nil, http.DefaultClient, observability.NewMetrics())
	assert.IsType(t, &classifier.ChatLabeler{}, affect)
	assert.Same(t, affect, situational)
}

func TestDispatcherWithoutCredentialsRecordsFailures(t *testing.T) {
	d := buildDispatcher(baseConfig(), http.DefaultClient, observability.NewMetrics(), NewLogger("error", io.Discard))
	out := d.Dispatch(context.Background(), alert.Request{
		Contacts: []store.Contact{{Name: "Mom", Phone: "+1555", Email: "mom@example.com"}},
	})
	require.Len(t, out, 2)
	assert.False(t, out[0].Success)
	assert.Equal(t, "messaging channel not configured", out[0].Detail)
	assert.Equal(t, "email channel not configured", out[1].Detail)
}

type recordingMessages struct {
	to []string
}

func (r *recordingMessages) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	if params.To != nil {
		r.to = append(r.to, *params.To)
	}
	sid := "SM1"
	return &api.ApiV2010Message{Sid: &sid}, nil
}

func TestDispatcherUsesTwilioWhatsApp(t *testing.T) {
	var mailBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mailBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	cfg := baseConfig()
	cfg.MessagingChannel = config.ChannelWhatsApp
	cfg.TwilioAccountSID = "AC1"
	cfg.TwilioAuthToken = "tok"
	cfg.TwilioWhatsAppNumber = "+14155238886"
	cfg.SendGridBaseURL = ts.URL
	cfg.SendGridAPIKey = "SG.key"
	cfg.SendGridSenderEmail = "alerts@example.com"

	messages := &recordingMessages{}
	d := buildDispatcher(cfg, ts.Client(), observability.NewMetrics(), NewLogger("error", io.Discard),
		twilio.WithMessageCreator(messages))
	out := d.Dispatch(context.Background(), alert.Request{
		Contacts:  []store.Contact{{Name: "Mom", Phone: "+15551111", Email: "mom@example.com"}},
		RiskScore: 90,
	})
	require.Len(t, out, 2)
	assert.True(t, out[0].Success, out[0].Detail)
	assert.Equal(t, alert.ChannelWhatsApp, out[0].Channel)
	assert.Equal(t, []string{"whatsapp:+15551111"}, messages.to)
	assert.True(t, out[1].Success, out[1].Detail)
	assert.True(t, strings.Contains(mailBody, "mom@example.com"), mailBody)
}
