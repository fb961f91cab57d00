package model

import (
	"safetybuddy/internal/alert"
	"safetybuddy/internal/orchestrator"
	"safetybuddy/internal/store"
)

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool              `json:"ok"`
	ServiceName string            `json:"service_name,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

type ProcessTimings struct {
	Transcode     int64 `json:"transcode"`
	Transcription int64 `json:"transcription"`
	Scoring       int64 `json:"scoring"`
	Total         int64 `json:"total"`
}

type ProcessAudioResponse struct {
	Transcript      string          `json:"transcript"`
	KeywordDetected bool            `json:"keyword_detected"`
	Keywords        []string        `json:"keywords"`
	Emotion         string          `json:"emotion"`
	EmotionScore    float64         `json:"emotion_score"`
	StressScore     float64         `json:"stress_score"`
	StressLevel     string          `json:"stress_level"`
	StressError     string          `json:"stress_error,omitempty"`
	ContextLabel    string          `json:"context_label"`
	ContextScore    float64         `json:"context_score"`
	RiskScore       int             `json:"risk_score"`
	RiskLevel       string          `json:"risk_level"`
	Reasoning       string          `json:"reasoning"`
	Stage           string          `json:"stage"`
	Degraded        []string        `json:"degraded"`
	DBEvent         *store.SosEvent `json:"db_event"`
	AlertsTriggered []alert.Outcome `json:"alerts_triggered"`
	TimingsMS       ProcessTimings  `json:"timings_ms"`
}

// NewProcessAudioResponse flattens an orchestrator result into the wire
// shape shared by the HTTP API and the CLI.
func NewProcessAudioResponse(res orchestrator.Result) ProcessAudioResponse {
	keywords := res.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return ProcessAudioResponse{
		Transcript:      res.Transcript,
		KeywordDetected: res.KeywordDetected,
		Keywords:        keywords,
		Emotion:         res.Affect.Label,
		EmotionScore:    res.Affect.Score,
		StressScore:     res.Stress.Score,
		StressLevel:     string(res.Stress.Level),
		StressError:     res.Stress.Err,
		ContextLabel:    res.Context.Label,
		ContextScore:    res.Context.Score,
		RiskScore:       res.Risk.Score,
		RiskLevel:       string(res.Risk.Level),
		Reasoning:       res.Risk.Reasoning(),
		Stage:           string(res.Stage),
		Degraded:        res.Degraded,
		DBEvent:         res.Event,
		AlertsTriggered: res.Alerts,
		TimingsMS: ProcessTimings{
			Transcode:     res.Timings.Transcode.Milliseconds(),
			Transcription: res.Timings.Transcription.Milliseconds(),
			Scoring:       res.Timings.Scoring.Milliseconds(),
			Total:         res.Timings.Total.Milliseconds(),
		},
	}
}
