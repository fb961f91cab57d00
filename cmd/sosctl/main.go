package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"safetybuddy/internal/alert"
	"safetybuddy/internal/app"
	"safetybuddy/internal/classifier"
	"safetybuddy/internal/config"
	"safetybuddy/internal/model"
	"safetybuddy/internal/orchestrator"
	"safetybuddy/internal/risk"
	"safetybuddy/internal/store"
	"safetybuddy/internal/stress"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "sosctl",
		Short:        "sosctl - SafetyBuddy operator tool",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	loadConfig := func() (config.Config, error) {
		return config.Load(envFile)
	}
	root.AddCommand(
		newAnalyzeCmd(loadConfig),
		newEventsCmd(loadConfig),
		newScoreCmd(),
		newMigrateCmd(loadConfig),
	)
	return root
}

type configLoader func() (config.Config, error)

func newAnalyzeCmd(loadConfig configLoader) *cobra.Command {
	var (
		file      string
		studentID string
		lat, lon  string
		noAlerts  bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one audio file through the full pipeline and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := parseLocation(lat, lon)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.Orchestrator.Process(cmd.Context(), orchestrator.Input{
				File:       f,
				FileName:   filepath.Base(file),
				StudentID:  studentID,
				Location:   location,
				SkipAlerts: noAlerts,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.NewProcessAudioResponse(res))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "audio file to analyze")
	cmd.Flags().StringVar(&studentID, "student-id", "", "student the recording belongs to")
	cmd.Flags().StringVar(&lat, "lat", "", "latitude of the student")
	cmd.Flags().StringVar(&lon, "lon", "", "longitude of the student")
	cmd.Flags().BoolVar(&noAlerts, "no-alerts", false, "score and persist without notifying contacts")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("student-id")
	return cmd
}

func newEventsCmd(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print persisted SOS events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg, app.NewLogger(cfg.LogLevel, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.ListEvents(cmd.Context())
			if err != nil {
				return err
			}
			if events == nil {
				events = []store.EventView{}
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
}

type scoreOutput struct {
	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`
	Reasoning string `json:"reasoning"`
	Priority  int    `json:"priority"`
	Alert     bool   `json:"alert"`
}

func newScoreCmd() *cobra.Command {
	var (
		keyword     bool
		emotion     string
		contextFlag string
		stressLevel string
	)
	cmd := &cobra.Command{
		Use:     "score",
		Short:   "Fuse hand-supplied signals into a risk assessment",
		Example: "  sosctl score --keyword --emotion fear:0.8 --context joy:0.9 --stress HIGH",
		RunE: func(cmd *cobra.Command, args []string) error {
			affect, err := parseLabel(emotion)
			if err != nil {
				return fmt.Errorf("--emotion: %w", err)
			}
			situational, err := parseLabel(contextFlag)
			if err != nil {
				return fmt.Errorf("--context: %w", err)
			}
			level, err := parseStress(stressLevel)
			if err != nil {
				return err
			}

			assessment := risk.Fuse(risk.Signals{
				KeywordHit: keyword,
				Affect:     affect,
				Context:    situational,
				Stress:     stress.Assessment{Level: level},
			})
			return printJSON(cmd.OutOrStdout(), scoreOutput{
				RiskScore: assessment.Score,
				RiskLevel: string(assessment.Level),
				Reasoning: assessment.Reasoning(),
				Priority:  assessment.Level.Priority(),
				Alert:     assessment.Level.ShouldAlert(),
			})
		},
	}
	cmd.Flags().BoolVar(&keyword, "keyword", false, "an SOS keyword was heard")
	cmd.Flags().StringVar(&emotion, "emotion", "", "affect result as label:score")
	cmd.Flags().StringVar(&contextFlag, "context", "", "context result as label:score")
	cmd.Flags().StringVar(&stressLevel, "stress", "LOW", "stress level: LOW, MEDIUM, HIGH or ERROR")
	return cmd
}

func newMigrateCmd(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			logger := app.NewLogger(cfg.LogLevel, cmd.ErrOrStderr())
			pg, err := store.OpenPostgres(cmd.Context(), store.PostgresConfig{
				DSN:          cfg.DatabaseURL,
				MaxOpenConns: 1,
				MaxIdleConns: 1,
				QueryTimeout: cfg.DBQueryTimeout,
			}, logger)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

// parseLabel reads "label:score"; an empty value means no signal.
func parseLabel(raw string) (classifier.Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return classifier.Result{}, nil
	}
	label, scoreRaw, ok := strings.Cut(raw, ":")
	if !ok {
		return classifier.Result{}, fmt.Errorf("expected label:score, got %q", raw)
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(scoreRaw), 64)
	if err != nil || score < 0 || score > 1 {
		return classifier.Result{}, fmt.Errorf("score must be between 0 and 1, got %q", scoreRaw)
	}
	return classifier.Result{Label: strings.ToLower(strings.TrimSpace(label)), Score: score}, nil
}

func parseStress(raw string) (stress.Level, error) {
	switch level := stress.Level(strings.ToUpper(strings.TrimSpace(raw))); level {
	case stress.LevelLow, stress.LevelMedium, stress.LevelHigh, stress.LevelError:
		return level, nil
	default:
		return "", fmt.Errorf("--stress must be LOW, MEDIUM, HIGH or ERROR, got %q", raw)
	}
}

func parseLocation(latRaw, lonRaw string) (*alert.Location, error) {
	latRaw, lonRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lonRaw)
	if latRaw == "" && lonRaw == "" {
		return nil, nil
	}
	if latRaw == "" || lonRaw == "" {
		return nil, errors.New("--lat and --lon must be given together")
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid --lat %q", latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid --lon %q", lonRaw)
	}
	return &alert.Location{Latitude: lat, Longitude: lon}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
