package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
)

func runSync(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	integrationID := fs.String("integration", "", "integration id (required)")
	tenantID := fs.String("tenant", "", "tenant id owning the integration (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *integrationID == "" || *tenantID == "" {
		return fmt.Errorf("--integration and --tenant are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var onProgress syncrun.ProgressFunc
	if term.IsTerminal(int(os.Stderr.Fd())) {
		onProgress = progressLine(os.Stderr)
	}

	sum, err := a.gate.Run(ctx, *integrationID, *tenantID, onProgress)
	if onProgress != nil {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", *integrationID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return err
	}
	if sum.Errors > 0 {
		return fmt.Errorf("sync finished with %d errors", sum.Errors)
	}
	return nil
}

// progressLine redraws a single status line on w for every event.
func progressLine(w io.Writer) syncrun.ProgressFunc {
	var mu sync.Mutex
	return func(p syncrun.Progress) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprint(w, "\r\033[K", formatProgress(p))
	}
}

func formatProgress(p syncrun.Progress) string {
	if p.Total == nil {
		return fmt.Sprintf("%s: %d", p.Phase, p.Current)
	}
	return fmt.Sprintf("%s: %d/%d", p.Phase, p.Current, *p.Total)
}
