package stress

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, amplitude float64, seconds float64) []float64 {
	n := int(seconds * SampleRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
	}
	return out
}

func writeWAV(t *testing.T, samples []float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s * 32767)
	}
	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestScoreFeatures(t *testing.T) {
	cases := []struct {
		name  string
		in    Features
		score float64
		level Level
	}{
		{"quiet", Features{}, 0, LevelLow},
		{"loud only", Features{Energy: 0.06}, 0.4, LevelMedium},
		{"pitch only", Features{Pitch: 250}, 0.3, LevelLow},
		{"loud and high pitch", Features{Energy: 0.2, Pitch: 210}, 0.7, LevelHigh},
		{"everything", Features{Energy: 0.2, Pitch: 300, Tempo: 140}, 1.0, LevelHigh},
		{"exact thresholds do not count", Features{Energy: 0.05, Pitch: 200, Tempo: 120}, 0, LevelLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreFeatures(tc.in)
			assert.InDelta(t, tc.score, got.Score, 1e-9)
			assert.Equal(t, tc.level, got.Level)
			assert.Empty(t, got.Err)
		})
	}
}

func TestScoreFeaturesIsMonotonicPerFeature(t *testing.T) {
	base := []Features{{}, {Energy: 1}, {Pitch: 500}, {Tempo: 200}, {Energy: 1, Pitch: 500}}
	for _, f := range base {
		before := ScoreFeatures(f).Score

		louder := f
		louder.Energy += 1
		assert.GreaterOrEqual(t, ScoreFeatures(louder).Score, before)

		higher := f
		higher.Pitch += 500
		assert.GreaterOrEqual(t, ScoreFeatures(higher).Score, before)

		faster := f
		faster.Tempo += 200
		assert.GreaterOrEqual(t, ScoreFeatures(faster).Score, before)
	}
}

func TestEstimateSamplesSilenceIsLow(t *testing.T) {
	got := EstimateSamples(make([]float64, SampleRate), SampleRate)
	assert.Equal(t, LevelLow, got.Level)
	assert.Zero(t, got.Score)
}

func TestEstimateSamplesLoudHighVoice(t *testing.T) {
	got := EstimateSamples(sine(300, 0.5, 1), SampleRate)
	require.Empty(t, got.Err)
	assert.Equal(t, LevelHigh, got.Level)
	assert.GreaterOrEqual(t, got.Score, 0.7)
}

func TestExtractPitchOfSine(t *testing.T) {
	f, err := Extract(sine(300, 0.5, 1), SampleRate)
	require.NoError(t, err)
	assert.InDelta(t, 300, f.Pitch, 10)
	assert.InDelta(t, 0.5/math.Sqrt2, f.Energy, 0.05)
}

func TestEstimateSamplesEmptyIsError(t *testing.T) {
	got := EstimateSamples(nil, SampleRate)
	assert.Equal(t, LevelError, got.Level)
	assert.Zero(t, got.Score)
	assert.NotEmpty(t, got.Err)
}

func TestEstimateDecodesWAV(t *testing.T) {
	path := writeWAV(t, sine(300, 0.5, 1))

	got := NewEstimator().Estimate(context.Background(), path)
	require.Empty(t, got.Err)
	assert.Equal(t, LevelHigh, got.Level)
}

func TestEstimateMissingFileDegrades(t *testing.T) {
	got := NewEstimator().Estimate(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Equal(t, LevelError, got.Level)
	assert.Zero(t, got.Score)
	assert.Contains(t, got.Err, "open audio")
}

func TestEstimateRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("not audio at all"), 0o600))

	got := NewEstimator().Estimate(context.Background(), path)
	assert.Equal(t, LevelError, got.Level)
}
