package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendHuggingFace = "huggingface"
	BackendChat        = "chat"

	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

type Config struct {
	ListenAddr     string
	LogLevel       string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	APIToken       string
	TempDir        string

	STTBaseURL            string
	STTAPIKey             string
	TranscriptionModel    string
	TranscriptionLanguage string
	TranscriptionTimeout  time.Duration

	ClassifierBackend     string
	HFBaseURL             string
	HFAPIToken            string
	AffectModel           string
	ContextModel          string
	ChatModel             string
	ClassifierTimeout     time.Duration
	ClassifierConcurrency int
	ChunkMaxChars         int
	Keywords              []string

	FFmpegPath       string
	TranscodeTimeout time.Duration

	DatabaseURL    string
	DBMaxOpenConns int
	DBMigrate      bool
	DBQueryTimeout time.Duration

	MessagingChannel     string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioPhoneNumber    string
	TwilioWhatsAppNumber string

	SendGridBaseURL     string
	SendGridAPIKey      string
	SendGridSenderEmail string

	AlertTimeout     time.Duration
	AlertConcurrency int

	AMQPURL   string
	AMQPQueue string
}

type envConfig struct {
	ListenAddr            string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	MaxUploadBytes        int64  `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"60"`
	APIToken              string `env:"API_TOKEN"`
	TempDir               string `env:"TEMP_DIR"`

	STTBaseURL                  string `env:"STT_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	STTAPIKey                   string `env:"STT_API_KEY"`
	TranscriptionModel          string `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-large-v3"`
	TranscriptionLanguage       string `env:"TRANSCRIPTION_LANGUAGE"`
	TranscriptionTimeoutSeconds int    `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"20"`

	ClassifierBackend        string   `env:"CLASSIFIER_BACKEND" envDefault:"huggingface"`
	HFBaseURL                string   `env:"HF_BASE_URL" envDefault:"https://api-inference.huggingface.co"`
	HFAPIToken               string   `env:"HF_API_TOKEN"`
	AffectModel              string   `env:"AFFECT_MODEL" envDefault:"j-hartmann/emotion-english-distilroberta-base"`
	ContextModel             string   `env:"CONTEXT_MODEL" envDefault:"bhadresh-savani/distilbert-base-uncased-emotion"`
	ChatModel                string   `env:"CHAT_MODEL" envDefault:"meta-llama/llama-4-scout-17b-16e-instruct"`
	ClassifierTimeoutSeconds int      `env:"CLASSIFIER_TIMEOUT_SECONDS" envDefault:"15"`
	ClassifierConcurrency    int      `env:"CLASSIFIER_CONCURRENCY" envDefault:"4"`
	ChunkMaxChars            int      `env:"CHUNK_MAX_CHARS" envDefault:"300"`
	Keywords                 []string `env:"SOS_KEYWORDS" envSeparator:","`

	FFmpegPath              string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	TranscodeTimeoutSeconds int    `env:"TRANSCODE_TIMEOUT_SECONDS" envDefault:"30"`

	DatabaseURL           string `env:"DATABASE_URL"`
	DBMaxOpenConns        int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMigrate             bool   `env:"DB_MIGRATE" envDefault:"false"`
	DBQueryTimeoutSeconds int    `env:"DB_QUERY_TIMEOUT_SECONDS" envDefault:"5"`

	MessagingChannel     string `env:"MESSAGING_CHANNEL" envDefault:"sms"`
	TwilioAccountSID     string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `env:"TWILIO_AUTH_TOKEN"`
	TwilioPhoneNumber    string `env:"TWILIO_PHONE_NUMBER"`
	TwilioWhatsAppNumber string `env:"TWILIO_WHATSAPP_NUMBER"`

	SendGridBaseURL     string `env:"SENDGRID_BASE_URL" envDefault:"https://api.sendgrid.com"`
	SendGridAPIKey      string `env:"SENDGRID_API_KEY"`
	SendGridSenderEmail string `env:"SENDGRID_SENDER_EMAIL"`

	AlertTimeoutSeconds int `env:"ALERT_TIMEOUT_SECONDS" envDefault:"15"`
	AlertConcurrency    int `env:"ALERT_CONCURRENCY" envDefault:"8"`

	AMQPURL   string `env:"AMQP_URL"`
	AMQPQueue string `env:"AMQP_QUEUE" envDefault:"sos_events"`
}

// Load reads envFile (when it exists) into the process environment without
// overriding variables that are already set, then parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return parse(cenv.Options{})
}

func parse(opts cenv.Options) (Config, error) {
	var raw envConfig
	if err := cenv.ParseWithOptions(&raw, opts); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:     strings.TrimSpace(raw.ListenAddr),
		LogLevel:       strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		MaxUploadBytes: raw.MaxUploadBytes,
		RequestTimeout: seconds(raw.RequestTimeoutSeconds),
		APIToken:       strings.TrimSpace(raw.APIToken),
		TempDir:        strings.TrimSpace(raw.TempDir),

		STTBaseURL:            trimURL(raw.STTBaseURL),
		STTAPIKey:             strings.TrimSpace(raw.STTAPIKey),
		TranscriptionModel:    strings.TrimSpace(raw.TranscriptionModel),
		TranscriptionLanguage: strings.TrimSpace(raw.TranscriptionLanguage),
		TranscriptionTimeout:  seconds(raw.TranscriptionTimeoutSeconds),

		ClassifierBackend:     strings.ToLower(strings.TrimSpace(raw.ClassifierBackend)),
		HFBaseURL:             trimURL(raw.HFBaseURL),
		HFAPIToken:            strings.TrimSpace(raw.HFAPIToken),
		AffectModel:           strings.TrimSpace(raw.AffectModel),
		ContextModel:          strings.TrimSpace(raw.ContextModel),
		ChatModel:             strings.TrimSpace(raw.ChatModel),
		ClassifierTimeout:     seconds(raw.ClassifierTimeoutSeconds),
		ClassifierConcurrency: raw.ClassifierConcurrency,
		ChunkMaxChars:         raw.ChunkMaxChars,
		Keywords:              cleanList(raw.Keywords),

		FFmpegPath:       strings.TrimSpace(raw.FFmpegPath),
		TranscodeTimeout: seconds(raw.TranscodeTimeoutSeconds),

		DatabaseURL:    strings.TrimSpace(raw.DatabaseURL),
		DBMaxOpenConns: raw.DBMaxOpenConns,
		DBMigrate:      raw.DBMigrate,
		DBQueryTimeout: seconds(raw.DBQueryTimeoutSeconds),

		MessagingChannel:     strings.ToLower(strings.TrimSpace(raw.MessagingChannel)),
		TwilioAccountSID:     strings.TrimSpace(raw.TwilioAccountSID),
		TwilioAuthToken:      strings.TrimSpace(raw.TwilioAuthToken),
		TwilioPhoneNumber:    strings.TrimSpace(raw.TwilioPhoneNumber),
		TwilioWhatsAppNumber: strings.TrimSpace(raw.TwilioWhatsAppNumber),

		SendGridBaseURL:     trimURL(raw.SendGridBaseURL),
		SendGridAPIKey:      strings.TrimSpace(raw.SendGridAPIKey),
		SendGridSenderEmail: strings.TrimSpace(raw.SendGridSenderEmail),

		AlertTimeout:     seconds(raw.AlertTimeoutSeconds),
		AlertConcurrency: raw.AlertConcurrency,

		AMQPURL:   strings.TrimSpace(raw.AMQPURL),
		AMQPQueue: strings.TrimSpace(raw.AMQPQueue),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if err := checkURL("STT_BASE_URL", c.STTBaseURL); err != nil {
		return err
	}
	if c.TranscriptionModel == "" {
		return errors.New("TRANSCRIPTION_MODEL must not be empty")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}

	switch c.ClassifierBackend {
	case BackendHuggingFace:
		if err := checkURL("HF_BASE_URL", c.HFBaseURL); err != nil {
			return err
		}
		if c.AffectModel == "" || c.ContextModel == "" {
			return errors.New("AFFECT_MODEL and CONTEXT_MODEL must not be empty")
		}
	case BackendChat:
		if c.ChatModel == "" {
			return errors.New("CHAT_MODEL must not be empty")
		}
	default:
		return fmt.Errorf("CLASSIFIER_BACKEND must be %q or %q", BackendHuggingFace, BackendChat)
	}
	if c.ClassifierTimeout <= 0 {
		return errors.New("CLASSIFIER_TIMEOUT_SECONDS must be > 0")
	}
	if c.ClassifierConcurrency <= 0 {
		return errors.New("CLASSIFIER_CONCURRENCY must be > 0")
	}
	if c.ChunkMaxChars <= 0 {
		return errors.New("CHUNK_MAX_CHARS must be > 0")
	}

	if c.FFmpegPath == "" {
		return errors.New("FFMPEG_PATH must not be empty")
	}
	if c.TranscodeTimeout <= 0 {
		return errors.New("TRANSCODE_TIMEOUT_SECONDS must be > 0")
	}
	if c.DBMaxOpenConns <= 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be > 0")
	}
	if c.DBQueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT_SECONDS must be > 0")
	}

	switch c.MessagingChannel {
	case ChannelSMS:
		if c.TwilioAccountSID != "" && c.TwilioPhoneNumber == "" {
			return errors.New("TWILIO_PHONE_NUMBER is required when MESSAGING_CHANNEL=sms")
		}
	case ChannelWhatsApp:
		if c.TwilioAccountSID != "" && c.TwilioWhatsAppNumber == "" {
			return errors.New("TWILIO_WHATSAPP_NUMBER is required when MESSAGING_CHANNEL=whatsapp")
		}
	default:
		return fmt.Errorf("MESSAGING_CHANNEL must be %q or %q", ChannelSMS, ChannelWhatsApp)
	}
	if (c.TwilioAccountSID == "") != (c.TwilioAuthToken == "") {
		return errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together")
	}
	if c.SendGridAPIKey != "" && c.SendGridSenderEmail == "" {
		return errors.New("SENDGRID_SENDER_EMAIL is required when SENDGRID_API_KEY is set")
	}
	if c.AlertTimeout <= 0 {
		return errors.New("ALERT_TIMEOUT_SECONDS must be > 0")
	}
	if c.AlertConcurrency <= 0 {
		return errors.New("ALERT_CONCURRENCY must be > 0")
	}
	if c.AMQPURL != "" && c.AMQPQueue == "" {
		return errors.New("AMQP_QUEUE must not be empty when AMQP_URL is set")
	}
	return nil
}

// TwilioConfigured reports whether messaging alerts can be sent.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func (c Config) SendGridConfigured() bool {
	return c.SendGridAPIKey != "" && c.SendGridSenderEmail != ""
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func trimURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

func checkURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	return nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
