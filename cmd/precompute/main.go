// Command precompute runs one recomputation and prints its report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelcm/admira-attribution/internal/app"
	"github.com/angelcm/admira-attribution/internal/config"
	"github.com/angelcm/admira-attribution/internal/httpx"
	"github.com/angelcm/admira-attribution/internal/logger"
	"github.com/angelcm/admira-attribution/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("ADMIRA_CONFIG"), "path to YAML config")
	from := flag.String("from", "", "first credited date, YYYY-MM-DD")
	to := flag.String("to", "", "last credited date, YYYY-MM-DD")
	asOf := flag.String("as-of", "", "observation instant, RFC 3339 or YYYY-MM-DD (default now)")
	flag.Parse()

	if err := run(*cfgPath, *from, *to, *asOf); err != nil {
		fmt.Fprintln(os.Stderr, "precompute:", err)
		os.Exit(1)
	}
}

func run(cfgPath, from, to, asOf string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	req, err := parseRequest(from, to, asOf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, runErr := a.Runner.Run(ctx, req)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return runErr
}

func parseRequest(from, to, asOf string) (pipeline.Request, error) {
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("-from: %w", err)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("-to: %w", err)
	}
	at := time.Now().UTC()
	if asOf != "" {
		if at, err = httpx.ParseAsOf(asOf); err != nil {
			return pipeline.Request{}, err
		}
	}
	return pipeline.Request{From: f, To: t, AsOf: at}, nil
}
