// Command trigger starts a run on a driftwatch server, or in-process with
// -local, and prints the summary. It exits 1 when any job failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/agenthands/driftwatch/internal/app"
	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/logging"
)

func main() {
	baseURL := flag.String("url", config.GetEnv("DRIFTWATCH_URL", "http://localhost:8080"), "driftwatch server URL")
	local := flag.Bool("local", false, "run in-process instead of calling a server")
	cfgPath := flag.String("config", config.GetEnv("CONFIG_PATH", "config/config.toml"), "config file for -local")
	timeout := flag.Duration("timeout", 30*time.Minute, "how long to wait for the run")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("DRIFTWATCH_ENV"))
	config.LoadEnv(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var summary model.RunSummary
	var err error
	if *local {
		summary, err = runLocal(ctx, *cfgPath, logger)
	} else {
		summary, err = runRemote(ctx, *baseURL)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(2)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	if summary.Error != "" || summary.JobsFailed > 0 {
		os.Exit(1)
	}
}

func runLocal(ctx context.Context, path string, logger logging.Logger) (model.RunSummary, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return model.RunSummary{}, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return model.RunSummary{}, err
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer a.Close()
	return a.Monitor.Run(ctx, "manual"), nil
}

func runRemote(ctx context.Context, baseURL string) (model.RunSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/runs", nil)
	if err != nil {
		return model.RunSummary{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return model.RunSummary{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.RunSummary{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.RunSummary{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body)
	}
	var summary model.RunSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return model.RunSummary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	return summary, nil
}
