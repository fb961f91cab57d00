package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetybuddy/internal/alert"
	"safetybuddy/internal/classifier"
	"safetybuddy/internal/risk"
	"safetybuddy/internal/signals"
	"safetybuddy/internal/store"
	"safetybuddy/internal/stress"
	"safetybuddy/internal/upstream/openai"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeTranscoder struct {
	err   error
	input string
}

func (f *fakeTranscoder) Transcode(_ context.Context, inPath, outPath string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return err
	}
	f.input = string(data)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, []byte("RIFF"), 0o600)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, file io.Reader, _, _ string) (string, error) {
	_, _ = io.ReadAll(file)
	return f.text, f.err
}

// cancellingTranscriber cancels the caller's context before returning, as
// when a client disconnects while transcription is in flight.
type cancellingTranscriber struct {
	cancel context.CancelFunc
	text   string
}

func (c *cancellingTranscriber) Transcribe(_ context.Context, file io.Reader, _, _ string) (string, error) {
	_, _ = io.ReadAll(file)
	c.cancel()
	return c.text, nil
}

type fixedStress stress.Assessment

func (f fixedStress) Estimate(context.Context, string) stress.Assessment {
	return stress.Assessment(f)
}

func label(l string, score float64) classifier.Classifier {
	return classifier.Func(func(context.Context, string) (classifier.Result, error) {
		return classifier.Result{Label: l, Score: score}, nil
	})
}

func failing(err error) classifier.Classifier {
	return classifier.Func(func(context.Context, string) (classifier.Result, error) {
		return classifier.Result{}, err
	})
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMessenger) Send(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type ctxMessenger struct {
	fakeMessenger
}

func (m *ctxMessenger) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.fakeMessenger.Send(ctx, to, body)
}

// ctxStore fails every call made with a finished context.
type ctxStore struct {
	*store.Memory
}

func (c ctxStore) InsertEvent(ctx context.Context, e store.SosEvent) (store.SosEvent, error) {
	if err := ctx.Err(); err != nil {
		return store.SosEvent{}, err
	}
	return c.Memory.InsertEvent(ctx, e)
}

func (c ctxStore) GetContacts(ctx context.Context, studentID string) ([]store.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Memory.GetContacts(ctx, studentID)
}

type countingDispatcher struct {
	calls int
	inner AlertDispatcher
}

func (c *countingDispatcher) Dispatch(ctx context.Context, req alert.Request) []alert.Outcome {
	c.calls++
	return c.inner.Dispatch(ctx, req)
}

type fakeBus struct {
	events []store.SosEvent
	err    error
}

func (f *fakeBus) Publish(_ context.Context, e store.SosEvent) error {
	f.events = append(f.events, e)
	return f.err
}

type brokenEvents struct{}

func (brokenEvents) InsertEvent(context.Context, store.SosEvent) (store.SosEvent, error) {
	return store.SosEvent{}, errors.New("connection refused")
}

func (brokenEvents) ListEvents(context.Context) ([]store.EventView, error) { return nil, nil }

type brokenContacts struct{}

func (brokenContacts) GetContacts(context.Context, string) ([]store.Contact, error) {
	return nil, errors.New("timeout")
}

func (brokenContacts) GetStudent(context.Context, string) (*store.Student, error) { return nil, nil }

type recordingObserver struct {
	levels   []string
	degraded []string
	alerts   []string
}

func (r *recordingObserver) ObserveRiskLevel(level string)       { r.levels = append(r.levels, level) }
func (r *recordingObserver) ObserveDegradedSignal(signal string) { r.degraded = append(r.degraded, signal) }
func (r *recordingObserver) ObserveAlertOutcome(channel, outcome string) {
	r.alerts = append(r.alerts, channel+":"+outcome)
}

type harness struct {
	deps       Dependencies
	mem        *store.Memory
	messenger  *fakeMessenger
	dispatcher *countingDispatcher
	bus        *fakeBus
	observer   *recordingObserver
	tmp        string
}

func newHarness(t *testing.T, transcript string, affect, situational classifier.Classifier, st stress.Assessment) *harness {
	t.Helper()
	mem := store.NewMemory()
	mem.AddStudent(store.Student{ID: "stu-1", Name: "Ana", Email: "ana@example.com"},
		store.Contact{Name: "Mom", Phone: "+15551111"})
	messenger := &fakeMessenger{}
	dispatcher := &countingDispatcher{inner: alert.NewDispatcher(messenger, alert.ChannelSMS, nil, alert.WithLogger(discard))}
	h := &harness{
		mem:        mem,
		messenger:  messenger,
		dispatcher: dispatcher,
		bus:        &fakeBus{},
		observer:   &recordingObserver{},
		tmp:        t.TempDir(),
	}
	h.deps = Dependencies{
		Transcoder:  &fakeTranscoder{},
		Transcriber: &fakeTranscriber{text: transcript},
		Stress:      fixedStress(st),
		Signals:     signals.NewAggregator(affect, situational, 2, discard),
		Keywords:    signals.NewKeywordMatcher(nil),
		Contacts:    mem,
		Events:      mem,
		Alerts:      dispatcher,
		Bus:         h.bus,
		Observer:    h.observer,
		Logger:      discard,
		TempDir:     h.tmp,
	}
	return h
}

func (h *harness) run(t *testing.T, in Input) (Result, error) {
	t.Helper()
	svc, err := New(h.deps)
	require.NoError(t, err)
	if in.File == nil {
		in.File = strings.NewReader("audio-bytes")
	}
	if in.StudentID == "" {
		in.StudentID = "stu-1"
	}
	res, err := svc.Process(context.Background(), in)

	entries, readErr := os.ReadDir(h.tmp)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "work dir must be removed")
	return res, err
}

func TestProcessHighRiskPersistsAndAlerts(t *testing.T) {
	h := newHarness(t, "  Help me, please LEAVE ME ALONE ",
		label("fear", 0.9), label("anger", 0.5),
		stress.Assessment{Score: 0.4, Level: stress.LevelMedium})

	res, err := h.run(t, Input{FileName: "clip.m4a", Location: &alert.Location{Latitude: 33.42, Longitude: -111.94}})
	require.NoError(t, err)

	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "help me, please leave me alone", res.Transcript)
	assert.Equal(t, []string{"help", "leave me alone"}, res.Keywords)
	assert.Equal(t, 88, res.Risk.Score)
	assert.Equal(t, risk.LevelHigh, res.Risk.Level)
	assert.Empty(t, res.Degraded)

	require.NotNil(t, res.Event)
	assert.NotEmpty(t, res.Event.ID)
	assert.Equal(t, 3, res.Event.Priority)
	assert.Equal(t, "fear", res.Event.Emotion)
	require.NotNil(t, res.Event.Latitude)
	assert.InDelta(t, 33.42, *res.Event.Latitude, 1e-9)
	require.Len(t, h.bus.events, 1)
	assert.Equal(t, res.Event.ID, h.bus.events[0].ID)

	require.Len(t, res.Alerts, 2)
	assert.True(t, res.Alerts[0].Success)
	assert.Equal(t, "skipped: no email", res.Alerts[1].Detail)
	assert.Equal(t, []string{"+15551111"}, h.messenger.sent)

	assert.Equal(t, []string{"HIGH"}, h.observer.levels)
	assert.Equal(t, []string{"SMS:success", "EMAIL:skipped"}, h.observer.alerts)

	events, err := h.mem.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Ana", events[0].StudentName)
}

func TestProcessLowRiskDoesNotDispatch(t *testing.T) {
	h := newHarness(t, "I am fine, thank you",
		label("joy", 0.95), label("neutral", 0.9),
		stress.Assessment{Score: 0, Level: stress.LevelLow})

	res, err := h.run(t, Input{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Risk.Score)
	assert.Equal(t, risk.LevelLow, res.Risk.Level)
	assert.Empty(t, res.Alerts)
	assert.NotNil(t, res.Alerts)
	assert.Zero(t, h.dispatcher.calls)
	require.NotNil(t, res.Event)
	assert.Equal(t, 1, res.Event.Priority)
	assert.Nil(t, res.Event.Latitude)
}

func TestProcessSkipAlerts(t *testing.T) {
	h := newHarness(t, "help", label("fear", 0.9), label("fear", 0.9),
		stress.Assessment{Level: stress.LevelHigh, Score: 0.7})
	res, err := h.run(t, Input{SkipAlerts: true})
	require.NoError(t, err)
	assert.Equal(t, risk.LevelHigh, res.Risk.Level)
	assert.Zero(t, h.dispatcher.calls)
}

func TestProcessTranscodeFailureIsFatal(t *testing.T) {
	h := newHarness(t, "help", label("fear", 1), label("fear", 1), stress.Assessment{})
	h.deps.Transcoder = &fakeTranscoder{err: errors.New("invalid data found when processing input")}

	res, err := h.run(t, Input{})
	var oerr *Error
	require.ErrorAs(t, err, &oerr)
	assert.ErrorIs(t, err, ErrTranscode)
	assert.Equal(t, StageTranscoded, oerr.Stage)
	assert.Equal(t, StageErrored, res.Stage)
	events, _ := h.mem.ListEvents(context.Background())
	assert.Empty(t, events)
}

func TestProcessTranscriptionFailureKeepsUpstreamError(t *testing.T) {
	h := newHarness(t, "", label("fear", 1), label("fear", 1), stress.Assessment{})
	h.deps.Transcriber = &fakeTranscriber{err: &openai.Error{StatusCode: 503, Body: "overloaded"}}

	_, err := h.run(t, Input{})
	assert.ErrorIs(t, err, ErrTranscription)
	var upErr *openai.Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 503, upErr.StatusCode)
}

func TestProcessRejectsMissingStudent(t *testing.T) {
	h := newHarness(t, "", label("fear", 1), label("fear", 1), stress.Assessment{})
	svc, err := New(h.deps)
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), Input{File: strings.NewReader("x"), StudentID: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProcessDegradesClassifiersAndStress(t *testing.T) {
	h := newHarness(t, "help", failing(errors.New("503")), failing(errors.New("503")),
		stress.Assessment{Level: stress.LevelError, Err: "bad wav"})

	res, err := h.run(t, Input{})
	require.NoError(t, err)
	assert.Equal(t, []string{DegradedAffect, DegradedContext, DegradedStress}, res.Degraded)
	assert.Equal(t, 30, res.Risk.Score)
	assert.Equal(t, risk.LevelLow, res.Risk.Level)
	assert.Equal(t, res.Degraded, h.observer.degraded)
}

func TestProcessEmptyTranscriptDegradesClassification(t *testing.T) {
	h := newHarness(t, "   ", label("fear", 1), label("fear", 1), stress.Assessment{Level: stress.LevelLow})
	res, err := h.run(t, Input{})
	require.NoError(t, err)
	assert.Equal(t, "", res.Transcript)
	assert.Equal(t, []string{DegradedAffect, DegradedContext}, res.Degraded)
	assert.Equal(t, 0, res.Risk.Score)
}

func TestProcessPersistenceFailureStillAlerts(t *testing.T) {
	h := newHarness(t, "help", label("fear", 0.9), label("fear", 0.9),
		stress.Assessment{Level: stress.LevelHigh, Score: 0.7})
	h.deps.Events = brokenEvents{}

	res, err := h.run(t, Input{})
	require.NoError(t, err)
	assert.Nil(t, res.Event)
	assert.Contains(t, res.Degraded, DegradedPersistence)
	assert.Empty(t, h.bus.events)
	assert.Equal(t, 1, h.dispatcher.calls)
	assert.Len(t, res.Alerts, 2)
}

func TestProcessEventBusFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, "thanks", label("joy", 0.9), label("joy", 0.9), stress.Assessment{Level: stress.LevelLow})
	h.bus.err = errors.New("broker down")

	res, err := h.run(t, Input{})
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, []string{DegradedEventBus}, res.Degraded)
}

func TestProcessContactLookupFailureSkipsDispatch(t *testing.T) {
	h := newHarness(t, "help", label("fear", 0.9), label("fear", 0.9),
		stress.Assessment{Level: stress.LevelHigh, Score: 0.7})
	h.deps.Contacts = brokenContacts{}

	res, err := h.run(t, Input{})
	require.NoError(t, err)
	assert.Equal(t, []string{DegradedContacts}, res.Degraded)
	assert.Zero(t, h.dispatcher.calls)
	assert.Empty(t, res.Alerts)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestUploadExt(t *testing.T) {
	assert.Equal(t, ".m4a", uploadExt("Clip.M4A"))
	assert.Equal(t, ".wav", uploadExt("../../etc/a.wav"))
	assert.Equal(t, "", uploadExt("noext"))
	assert.Equal(t, "", uploadExt("x.w$v"))
}

func TestProcessCompletesAfterCallerCancels(t *testing.T) {
	h := newHarness(t, "", label("fear", 0.9), label("anger", 0.8),
		stress.Assessment{Score: 0.8, Level: stress.LevelHigh})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deps.Transcriber = &cancellingTranscriber{cancel: cancel, text: "help me"}
	messenger := &ctxMessenger{}
	h.deps.Alerts = alert.NewDispatcher(messenger, alert.ChannelSMS, nil, alert.WithLogger(discard))
	guarded := ctxStore{Memory: h.mem}
	h.deps.Events = guarded
	h.deps.Contacts = guarded

	svc, err := New(h.deps)
	require.NoError(t, err)
	res, err := svc.Process(ctx, Input{File: strings.NewReader("audio"), StudentID: "stu-1"})
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, risk.LevelHigh, res.Risk.Level)
	assert.Empty(t, res.Degraded)
	require.NotNil(t, res.Event)
	require.Len(t, res.Alerts, 2)
	assert.True(t, res.Alerts[0].Success, res.Alerts[0].Detail)
	assert.Equal(t, []string{"+15551111"}, messenger.sent)
	require.Len(t, h.bus.events, 1)

	events, err := h.mem.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
