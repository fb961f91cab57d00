package stress

import (
	"errors"
	"math"
)

const (
	frameLength = 2048
	hopLength   = 512
	pitchWindow = 1024

	minPitchHz = 50.0
	maxPitchHz = 1000.0
	// autocorrelation peak below this is treated as unvoiced
	minClarity = 0.3
	// frames quieter than this carry no pitch
	silenceRMS = 0.01

	minBPM   = 30.0
	maxBPM   = 240.0
	startBPM = 120.0
)

var errNoSamples = errors.New("extract features: no samples")

func Extract(samples []float64, rate int) (Features, error) {
	if len(samples) == 0 {
		return Features{}, errNoSamples
	}
	if rate <= 0 {
		return Features{}, errors.New("extract features: invalid sample rate")
	}

	frames := frameRMS(samples)
	return Features{
		Energy: mean(frames),
		Pitch:  meanPitch(samples, rate, frames),
		Tempo:  estimateTempo(frames, float64(rate)/hopLength),
	}, nil
}

// frameRMS returns the RMS of centered, zero padded frames.
func frameRMS(samples []float64) []float64 {
	n := 1 + len(samples)/hopLength
	out := make([]float64, n)
	half := frameLength / 2
	for i := 0; i < n; i++ {
		center := i * hopLength
		sum := 0.0
		for j := center - half; j < center+half; j++ {
			if j < 0 || j >= len(samples) {
				continue
			}
			sum += samples[j] * samples[j]
		}
		out[i] = math.Sqrt(sum / frameLength)
	}
	return out
}

func meanPitch(samples []float64, rate int, rms []float64) float64 {
	minLag := int(float64(rate) / maxPitchHz)
	maxLag := int(float64(rate) / minPitchHz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= pitchWindow {
		maxLag = pitchWindow - 1
	}

	sum, count := 0.0, 0
	for i, level := range rms {
		if level < silenceRMS {
			continue
		}
		start := i*hopLength - pitchWindow/2
		if start < 0 {
			start = 0
		}
		end := start + pitchWindow
		if end > len(samples) {
			continue
		}
		if hz := framePitch(samples[start:end], rate, minLag, maxLag); hz > 0 {
			sum += hz
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func framePitch(frame []float64, rate, minLag, maxLag int) float64 {
	energy := 0.0
	for _, v := range frame {
		energy += v * v
	}
	if energy == 0 {
		return 0
	}

	bestLag, best := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		r := 0.0
		for j := 0; j+lag < len(frame); j++ {
			r += frame[j] * frame[j+lag]
		}
		r /= energy
		if r > best {
			best, bestLag = r, lag
		}
	}
	if bestLag == 0 || best < minClarity {
		return 0
	}
	return float64(rate) / float64(bestLag)
}

// estimateTempo autocorrelates an onset envelope built from the positive
// frame energy flux and weights candidate tempi by a log-normal prior
// centered on startBPM.
func estimateTempo(rms []float64, frameRate float64) float64 {
	onset := make([]float64, len(rms))
	for i := 1; i < len(rms); i++ {
		if d := rms[i] - rms[i-1]; d > 0 {
			onset[i] = d
		}
	}

	avg := mean(onset)
	flat := true
	for i := range onset {
		onset[i] -= avg
		if onset[i] != 0 {
			flat = false
		}
	}
	if flat {
		return 0
	}

	minLag := int(math.Ceil(60 * frameRate / maxBPM))
	maxLag := int(math.Floor(60 * frameRate / minBPM))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}
	if maxLag < minLag {
		return 0
	}

	bestBPM, best := 0.0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		r := 0.0
		for j := 0; j+lag < len(onset); j++ {
			r += onset[j] * onset[j+lag]
		}
		if r <= 0 {
			continue
		}
		bpm := 60 * frameRate / float64(lag)
		prior := math.Exp(-0.5 * math.Pow(math.Log2(bpm/startBPM), 2))
		if weighted := r * prior; weighted > best {
			best, bestBPM = weighted, bpm
		}
	}
	return bestBPM
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
