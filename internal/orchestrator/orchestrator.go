// Package orchestrator runs one audio submission end to end: transcode,
// transcribe, score, persist, publish and alert.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"safetybuddy/internal/alert"
	"safetybuddy/internal/classifier"
	"safetybuddy/internal/risk"
	"safetybuddy/internal/signals"
	"safetybuddy/internal/store"
	"safetybuddy/internal/stress"
)

type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageTranscoded  Stage = "TRANSCODED"
	StageTranscribed Stage = "TRANSCRIBED"
	StageScored      Stage = "SCORED"
	StagePersisted   Stage = "PERSISTED"
	StageDispatched  Stage = "DISPATCHED"
	StageDone        Stage = "DONE"
	StageErrored     Stage = "ERRORED"
)

// Names of the signals that can degrade without failing the request.
const (
	DegradedAffect      = "affect"
	DegradedContext     = "context"
	DegradedStress      = "stress"
	DegradedPersistence = "persistence"
	DegradedEventBus    = "event_bus"
	DegradedContacts    = "contacts"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrTranscode     = errors.New("audio transcode failed")
	ErrTranscription = errors.New("transcription failed")
)

// Error is returned for the fatal stages. Kind is one of the sentinel errors
// above and Err the underlying cause; errors.Is and errors.As see both.
type Error struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

type Transcoder interface {
	Transcode(ctx context.Context, inPath, outPath string) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error)
}

type StressEstimator interface {
	Estimate(ctx context.Context, path string) stress.Assessment
}

type SignalAggregator interface {
	ClassifyAll(ctx context.Context, chunks []string) (classifier.Result, classifier.Result, signals.Report)
}

type KeywordMatcher interface {
	Matches(transcript string) []string
}

type AlertDispatcher interface {
	Dispatch(ctx context.Context, req alert.Request) []alert.Outcome
}

type EventPublisher interface {
	Publish(ctx context.Context, event store.SosEvent) error
}

type Observer interface {
	ObserveRiskLevel(level string)
	ObserveDegradedSignal(signal string)
	ObserveAlertOutcome(channel, outcome string)
}

type Dependencies struct {
	Transcoder  Transcoder
	Transcriber Transcriber
	Stress      StressEstimator
	Signals     SignalAggregator
	Keywords    KeywordMatcher
	Contacts    store.ContactStore
	Events      store.EventStore
	Alerts      AlertDispatcher

	// Optional.
	Bus           EventPublisher
	Observer      Observer
	Logger        *slog.Logger
	TempDir       string
	ChunkMaxChars int
}

type Service struct {
	deps Dependencies
}

type Input struct {
	File       io.Reader
	FileName   string
	StudentID  string
	Location   *alert.Location
	SkipAlerts bool
}

type Timings struct {
	Transcode     time.Duration
	Transcription time.Duration
	Scoring       time.Duration
	Total         time.Duration
}

type Result struct {
	Transcript      string
	Keywords        []string
	KeywordDetected bool
	Affect          classifier.Result
	Context         classifier.Result
	Stress          stress.Assessment
	Risk            risk.Assessment
	Stage           Stage
	Degraded        []string
	Event           *store.SosEvent
	Alerts          []alert.Outcome
	Timings         Timings
}

func New(deps Dependencies) (*Service, error) {
	switch {
	case deps.Transcoder == nil:
		return nil, errors.New("orchestrator: transcoder is required")
	case deps.Transcriber == nil:
		return nil, errors.New("orchestrator: transcriber is required")
	case deps.Stress == nil:
		return nil, errors.New("orchestrator: stress estimator is required")
	case deps.Signals == nil:
		return nil, errors.New("orchestrator: signal aggregator is required")
	case deps.Keywords == nil:
		return nil, errors.New("orchestrator: keyword matcher is required")
	case deps.Contacts == nil || deps.Events == nil:
		return nil, errors.New("orchestrator: stores are required")
	case deps.Alerts == nil:
		return nil, errors.New("orchestrator: alert dispatcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.ChunkMaxChars <= 0 {
		deps.ChunkMaxChars = signals.DefaultMaxChunkChars
	}
	return &Service{deps: deps}, nil
}

func (s *Service) Process(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	result := Result{Stage: StageReceived, Degraded: []string{}, Alerts: []alert.Outcome{}}

	studentID := strings.TrimSpace(in.StudentID)
	if in.File == nil || studentID == "" {
		result.Stage = StageErrored
		return result, &Error{Stage: StageReceived, Kind: ErrInvalidInput, Err: errors.New("file and student_id are required")}
	}
	logger := s.deps.Logger.With("student_id", studentID)

	dir, err := os.MkdirTemp(s.deps.TempDir, "sos-*")
	if err != nil {
		result.Stage = StageErrored
		return result, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("remove work dir failed", "dir", dir, "error", err)
		}
	}()

	inPath := filepath.Join(dir, "upload"+uploadExt(in.FileName))
	if err := saveUpload(inPath, in.File); err != nil {
		result.Stage = StageErrored
		return result, fmt.Errorf("save upload: %w", err)
	}

	wavPath := filepath.Join(dir, "audio.wav")
	stepStarted := time.Now()
	if err := s.deps.Transcoder.Transcode(ctx, inPath, wavPath); err != nil {
		result.Stage = StageErrored
		return result, &Error{Stage: StageTranscoded, Kind: ErrTranscode, Err: err}
	}
	result.Timings.Transcode = time.Since(stepStarted)
	result.Stage = StageTranscoded

	stepStarted = time.Now()
	transcript, err := s.transcribe(ctx, wavPath)
	result.Timings.Transcription = time.Since(stepStarted)
	if err != nil {
		result.Stage = StageErrored
		return result, &Error{Stage: StageTranscribed, Kind: ErrTranscription, Err: err}
	}
	result.Transcript = strings.ToLower(strings.TrimSpace(transcript))
	result.Stage = StageTranscribed

	// Once a transcript exists the request is assessed, stored and alerted
	// on even if the caller goes away. Each step below has its own timeout.
	ctx = context.WithoutCancel(ctx)

	stepStarted = time.Now()
	s.score(ctx, logger, wavPath, &result)
	result.Timings.Scoring = time.Since(stepStarted)
	result.Stage = StageScored
	s.deps.Observer.ObserveRiskLevel(string(result.Risk.Level))

	s.persist(ctx, logger, studentID, in.Location, &result)
	result.Stage = StagePersisted

	if result.Risk.Level.ShouldAlert() && !in.SkipAlerts {
		s.dispatch(ctx, logger, studentID, in.Location, &result)
		result.Stage = StageDispatched
	}

	for _, signal := range result.Degraded {
		s.deps.Observer.ObserveDegradedSignal(signal)
	}
	result.Stage = StageDone
	result.Timings.Total = time.Since(started)

	logger.Info("sos request processed",
		"risk_score", result.Risk.Score,
		"risk_level", result.Risk.Level,
		"degraded", strings.Join(result.Degraded, ","),
		"alerts", len(result.Alerts),
		"duration_ms", result.Timings.Total.Milliseconds(),
	)
	return result, nil
}

func (s *Service) transcribe(ctx context.Context, wavPath string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.deps.Transcriber.Transcribe(ctx, f, filepath.Base(wavPath), "")
}

// score runs the text classifiers and the acoustic estimator side by side
// and fuses their output. Neither side can fail the request.
func (s *Service) score(ctx context.Context, logger *slog.Logger, wavPath string, result *Result) {
	result.Keywords = s.deps.Keywords.Matches(result.Transcript)
	result.KeywordDetected = len(result.Keywords) > 0
	chunks := signals.Chunk(result.Transcript, s.deps.ChunkMaxChars)

	var report signals.Report
	var g errgroup.Group
	g.Go(func() error {
		result.Affect, result.Context, report = s.deps.Signals.ClassifyAll(ctx, chunks)
		return nil
	})
	g.Go(func() error {
		result.Stress = s.deps.Stress.Estimate(ctx, wavPath)
		return nil
	})
	_ = g.Wait()

	if report.AffectErr != nil {
		result.Degraded = append(result.Degraded, DegradedAffect)
	}
	if report.ContextErr != nil {
		result.Degraded = append(result.Degraded, DegradedContext)
	}
	if result.Stress.Level == stress.LevelError {
		logger.Warn("stress estimation degraded", "error", result.Stress.Err)
		result.Degraded = append(result.Degraded, DegradedStress)
	}

	result.Risk = risk.Fuse(risk.Signals{
		KeywordHit: result.KeywordDetected,
		Affect:     result.Affect,
		Context:    result.Context,
		Stress:     result.Stress,
	})
}

func (s *Service) persist(ctx context.Context, logger *slog.Logger, studentID string, loc *alert.Location, result *Result) {
	event := store.SosEvent{
		StudentID:       studentID,
		Transcript:      result.Transcript,
		Emotion:         result.Affect.Label,
		EmotionScore:    result.Affect.Score,
		StressLevel:     string(result.Stress.Level),
		StressScore:     result.Stress.Score,
		ContextLabel:    result.Context.Label,
		ContextScore:    result.Context.Score,
		KeywordDetected: result.KeywordDetected,
		RiskScore:       result.Risk.Score,
		RiskLevel:       string(result.Risk.Level),
		Reasoning:       result.Risk.Reasoning(),
		Priority:        result.Risk.Level.Priority(),
	}
	if loc != nil {
		lat, lon := loc.Latitude, loc.Longitude
		event.Latitude, event.Longitude = &lat, &lon
	}

	stored, err := s.deps.Events.InsertEvent(ctx, event)
	if err != nil {
		logger.Error("persist sos event failed", "error", err)
		result.Degraded = append(result.Degraded, DegradedPersistence)
		return
	}
	result.Event = &stored

	if s.deps.Bus == nil {
		return
	}
	if err := s.deps.Bus.Publish(ctx, stored); err != nil {
		logger.Warn("publish sos event failed", "event_id", stored.ID, "error", err)
		result.Degraded = append(result.Degraded, DegradedEventBus)
	}
}

func (s *Service) dispatch(ctx context.Context, logger *slog.Logger, studentID string, loc *alert.Location, result *Result) {
	contacts, err := s.deps.Contacts.GetContacts(ctx, studentID)
	if err != nil {
		logger.Error("load emergency contacts failed", "error", err)
		result.Degraded = append(result.Degraded, DegradedContacts)
		return
	}
	if len(contacts) == 0 {
		logger.Warn("no emergency contacts on file")
	}
	student, err := s.deps.Contacts.GetStudent(ctx, studentID)
	if err != nil {
		logger.Warn("load student failed", "error", err)
		student = nil
	}

	result.Alerts = s.deps.Alerts.Dispatch(ctx, alert.Request{
		Contacts:   contacts,
		Transcript: result.Transcript,
		RiskScore:  result.Risk.Score,
		Location:   loc,
		Student:    student,
	})
	for _, o := range result.Alerts {
		s.deps.Observer.ObserveAlertOutcome(string(o.Channel), outcomeLabel(o))
	}
}

func outcomeLabel(o alert.Outcome) string {
	switch {
	case o.Skipped:
		return "skipped"
	case o.Success:
		return "success"
	default:
		return "failure"
	}
}

func saveUpload(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// uploadExt keeps a short alphanumeric extension so ffmpeg can sniff the
// container; anything else falls back to no extension.
func uploadExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

type nopObserver struct{}

func (nopObserver) ObserveRiskLevel(string)            {}
func (nopObserver) ObserveDegradedSignal(string)       {}
func (nopObserver) ObserveAlertOutcome(string, string) {}
