package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"guardian_tracker/internal/app"
	"guardian_tracker/internal/config"
	"guardian_tracker/internal/logger"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/models"
	"guardian_tracker/internal/risk"
	"guardian_tracker/internal/sweep"
)

// newCLI builds the command tree. Results are written to out as JSON.
func newCLI(out io.Writer, loadConfig func() config.Config) *cli.App {
	c := &commands{out: out, loadConfig: loadConfig}
	return &cli.App{
		Name:   "guardianctl",
		Usage:  "run tracking sweeps and manage the risk model",
		Writer: out,
		Commands: []*cli.Command{
			{
				Name:   "check-escapes",
				Usage:  "re-check every child against the safe zone and alert on escapes",
				Action: c.checkEscapes,
			},
			{
				Name:  "detect-anomalies",
				Usage: "run the anomaly detectors for every active child",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "ignore the one hour skip window"},
				},
				Action: c.detectAnomalies,
			},
			{
				Name:   "update-risk-scores",
				Usage:  "score every active child and store the assessments",
				Action: c.updateRiskScores,
			},
			{
				Name:  "train-model",
				Usage: "fit the risk classifier from labeled samples and write the artifacts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "samples", Usage: "JSON array of {features, high_risk}", Required: true},
					&cli.StringFlag{Name: "model-out", Usage: "classifier artifact path (default RISK_MODEL_PATH)"},
					&cli.StringFlag{Name: "scaler-out", Usage: "scaler artifact path (default RISK_SCALER_PATH)"},
					&cli.Float64Flag{Name: "test-fraction", Value: 0.2, Usage: "share of samples held out for evaluation"},
					&cli.IntFlag{Name: "iterations", Value: risk.DefaultTrainOptions.Iterations},
					&cli.Float64Flag{Name: "learning-rate", Value: risk.DefaultTrainOptions.LearningRate},
					&cli.Float64Flag{Name: "l2", Value: risk.DefaultTrainOptions.L2},
				},
				Action: c.trainModel,
			},
			{
				Name:  "evaluate-model",
				Usage: "score the stored artifacts against labeled samples",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "samples", Required: true},
					&cli.StringFlag{Name: "model", Usage: "classifier artifact path (default RISK_MODEL_PATH)"},
					&cli.StringFlag{Name: "scaler", Usage: "scaler artifact path (default RISK_SCALER_PATH)"},
				},
				Action: c.evaluateModel,
			},
			{
				Name:  "token",
				Usage: "issue a bearer token for a user id and role",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "user-id", Required: true},
					&cli.StringFlag{Name: "role", Value: models.RoleAdmin},
				},
				Action: c.token,
			},
		},
	}
}

type commands struct {
	out        io.Writer
	loadConfig func() config.Config
}

func (c *commands) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp wires the application for one sweep and closes it afterwards.
func (c *commands) withApp(ctx context.Context, fn func(*app.App) (sweep.Summary, error)) error {
	cfg := c.loadConfig()
	log := logger.Setup(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Stdout: cfg.LogStdout})
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := fn(a)
	if err != nil {
		return err
	}
	if err := c.print(sum); err != nil {
		return err
	}
	if sum.Interrupted {
		return cli.Exit("sweep interrupted", 130)
	}
	return nil
}

func (c *commands) checkEscapes(cc *cli.Context) error {
	return c.withApp(cc.Context, func(a *app.App) (sweep.Summary, error) {
		return a.Runner.RunEscapes(cc.Context)
	})
}

func (c *commands) detectAnomalies(cc *cli.Context) error {
	return c.withApp(cc.Context, func(a *app.App) (sweep.Summary, error) {
		return a.Runner.RunAnomalies(cc.Context, cc.Bool("force"))
	})
}

func (c *commands) updateRiskScores(cc *cli.Context) error {
	return c.withApp(cc.Context, func(a *app.App) (sweep.Summary, error) {
		return a.Runner.RunRisk(cc.Context)
	})
}

func (c *commands) trainModel(cc *cli.Context) error {
	cfg := c.loadConfig()
	samples, err := risk.LoadSamples(cc.String("samples"))
	if err != nil {
		return err
	}
	train, test := risk.Split(samples, cc.Float64("test-fraction"))
	model, err := risk.Train(train, risk.TrainOptions{
		Iterations:   cc.Int("iterations"),
		LearningRate: cc.Float64("learning-rate"),
		L2:           cc.Float64("l2"),
	})
	if err != nil {
		return err
	}

	modelPath := orDefault(cc.String("model-out"), cfg.RiskModelPath)
	scalerPath := orDefault(cc.String("scaler-out"), cfg.RiskScalerPath)
	if err := risk.SaveArtifacts(model, modelPath, scalerPath); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"model_version": model.Version,
		"samples":       len(train),
		"model_path":    modelPath,
	}).Info("Risk model trained.")

	report := struct {
		ModelVersion string        `json:"model_version"`
		ModelPath    string        `json:"model_path"`
		ScalerPath   string        `json:"scaler_path"`
		Train        risk.Metrics  `json:"train"`
		Test         *risk.Metrics `json:"test,omitempty"`
	}{
		ModelVersion: model.Version,
		ModelPath:    modelPath,
		ScalerPath:   scalerPath,
		Train:        risk.Evaluate(model, train),
	}
	if len(test) > 0 {
		m := risk.Evaluate(model, test)
		report.Test = &m
	}
	return c.print(report)
}

func (c *commands) evaluateModel(cc *cli.Context) error {
	cfg := c.loadConfig()
	samples, err := risk.LoadSamples(cc.String("samples"))
	if err != nil {
		return err
	}
	model, err := risk.LoadArtifacts(
		orDefault(cc.String("model"), cfg.RiskModelPath),
		orDefault(cc.String("scaler"), cfg.RiskScalerPath),
	)
	if err != nil {
		return err
	}
	return c.print(struct {
		ModelVersion string `json:"model_version"`
		risk.Metrics
	}{model.Version, risk.Evaluate(model, samples)})
}

func (c *commands) token(cc *cli.Context) error {
	cfg := c.loadConfig()
	role := cc.String("role")
	switch role {
	case models.RoleAdmin, models.RoleStaff, models.RoleDonor:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	middleware.SetSecret(cfg.JWTSecret)
	tok, err := middleware.GenerateToken(cc.Uint("user-id"), role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, tok)
	return err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
