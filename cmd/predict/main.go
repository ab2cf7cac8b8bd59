package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"rainguard/config"
	"rainguard/ml"
	"rainguard/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	modelPath := flag.String("model_path", "", "model artifact (overrides ml.model_path)")
	annual := flag.Float64("annual", 0, "annual rainfall in mm")
	input := flag.String("input", "", `JSON object of features, e.g. {"JAN": 20.1, ...}; "-" reads stdin`)
	strict := flag.Bool("strict", false, "reject input that lacks any monthly value")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.ML.ModelPath = *modelPath
	}
	logger, err := monitoring.NewLogger(monitoring.LogConfig{Level: "warn", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var annualSet *float64
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "annual" {
			annualSet = annual
		}
	})

	req, err := readRequest(annualSet, *input, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	artifact, err := ml.LoadModel(cfg.ML.ModelType, cfg.ML.ModelPath)
	if err != nil {
		logger.Error("failed to load model", zap.String("path", cfg.ML.ModelPath), zap.Error(err))
		os.Exit(1)
	}
	predictor, err := ml.NewPredictor(artifact, ml.PredictorOptions{}, logger)
	if err != nil {
		logger.Error("invalid model", zap.Error(err))
		os.Exit(1)
	}

	var pred *ml.Prediction
	if *strict {
		pred, err = predictor.PredictStrict(context.Background(), req)
	} else {
		pred, err = predictor.Predict(context.Background(), req)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Predicted Water Scarcity Level: %s\n", pred.Label)
	if len(pred.Missing) > 0 {
		fmt.Printf("Filled with zero: %s\n", strings.Join(pred.Missing, ", "))
	}
	if len(pred.Ignored) > 0 {
		fmt.Printf("Ignored: %s\n", strings.Join(pred.Ignored, ", "))
	}
}

// readRequest builds a request from -annual (nil when the flag was not
// given), from -input, or by prompting for the annual total.
func readRequest(annual *float64, input string, stdin io.Reader, stdout io.Writer) (ml.PredictionRequest, error) {
	switch {
	case annual != nil && input != "":
		return nil, errors.New("use either -annual or -input, not both")
	case annual != nil:
		return ml.QuickRequest(*annual), nil
	case input != "":
		return readFeatures(input, stdin)
	}

	fmt.Fprint(stdout, "Enter annual rainfall (mm): ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rainfall %q", strings.TrimSpace(line))
	}
	return ml.QuickRequest(v), nil
}

func readFeatures(input string, stdin io.Reader) (ml.PredictionRequest, error) {
	var r io.Reader = stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var req ml.PredictionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("parse features: %w", err)
	}
	if req == nil {
		return nil, errors.New("no features given")
	}
	return req, nil
}
