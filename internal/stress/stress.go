// Package stress estimates vocal stress from acoustic features of a mono
// 16 kHz recording. It never fails the caller: decode or extraction problems
// are reported as an ERROR assessment that carries no stress signal.
package stress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

const SampleRate = 16000

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
	LevelError  Level = "ERROR"
)

const (
	energyThreshold = 0.05
	pitchThreshold  = 200.0
	tempoThreshold  = 120.0

	energyWeight = 0.4
	pitchWeight  = 0.3
	tempoWeight  = 0.3
)

type Assessment struct {
	Score float64
	Level Level
	// Err is set only when Level is LevelError.
	Err string
}

type Features struct {
	Energy float64
	Pitch  float64
	Tempo  float64
}

type Estimator struct{}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate decodes the WAV file at path and scores it.
func (e *Estimator) Estimate(ctx context.Context, path string) Assessment {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	samples, rate, err := decodeWAV(path)
	if err != nil {
		return failed(err)
	}
	return EstimateSamples(samples, rate)
}

// EstimateSamples scores already decoded mono samples in [-1, 1].
func EstimateSamples(samples []float64, rate int) Assessment {
	features, err := Extract(samples, rate)
	if err != nil {
		return failed(err)
	}
	return ScoreFeatures(features)
}

func ScoreFeatures(f Features) Assessment {
	score := 0.0
	if f.Energy > energyThreshold {
		score += energyWeight
	}
	if f.Pitch > pitchThreshold {
		score += pitchWeight
	}
	if f.Tempo > tempoThreshold {
		score += tempoWeight
	}
	score = math.Min(score, 1.0)
	score = math.Round(score*100) / 100

	return Assessment{Score: score, Level: levelFor(score)}
}

func levelFor(score float64) Level {
	switch {
	case score >= 0.7:
		return LevelHigh
	case score >= 0.4:
		return LevelMedium
	default:
		return LevelLow
	}
}

func failed(err error) Assessment {
	return Assessment{Score: 0, Level: LevelError, Err: err.Error()}
}

func decodeWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, errors.New("decode audio: not a valid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode audio: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, errors.New("decode audio: no samples")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(d.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := math.Ldexp(1, bitDepth-1)

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = sum / float64(channels) / scale
	}
	return samples, buf.Format.SampleRate, nil
}
