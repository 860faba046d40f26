package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/PhictionalOne/Toot2Cal/internal/config"
	"github.com/PhictionalOne/Toot2Cal/internal/ics"
	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
	"github.com/PhictionalOne/Toot2Cal/internal/mastodon"
	"github.com/PhictionalOne/Toot2Cal/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the process exit, returning the exit status.
func run(args []string, stdout, stderr io.Writer) int {
	conf, err := config.Load(args)
	if err != nil {
		var help *config.HelpError
		if errors.As(err, &help) {
			fmt.Fprintln(stdout, help.Text)
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	appLog.SetLevel(conf.Level())

	appLog.Debug("effective config",
		"instance", conf.Instance,
		"username", conf.Username,
		"input", conf.Input,
		"output", conf.Output,
		"limit", conf.Limit,
		"cutoff", conf.Cutoff,
		"timezone", conf.Timezone,
		"schedule", conf.Schedule,
	)

	runner, err := newRunner(conf)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if conf.Schedule == "" {
		res, err := runner.Run(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, res.Summary())
		return 0
	}

	if err := runScheduled(ctx, conf.Schedule, runner, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRunner(conf *config.Config) (*pipeline.Runner, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: conf.Timeout}

	client, err := mastodon.NewClient(conf.Instance, conf.Token,
		mastodon.WithHTTPClient(httpClient),
		mastodon.WithUserAgent(conf.UserAgent),
	)
	if err != nil {
		return nil, err
	}

	formatter := ics.NewFormatter(ics.FormatConfig{
		Prefix:      conf.Prefix,
		Description: conf.Description,
		Cutoff:      conf.Cutoff,
		Location:    loc,
	})

	return pipeline.NewRunner(client, ics.NewLoader(httpClient), formatter, pipeline.Settings{
		Username: conf.Username,
		Input:    conf.Input,
		Output:   conf.Output,
		Limit:    conf.Limit,
	}), nil
}

// runScheduled converts once immediately and then on every tick of spec
// until ctx is canceled. Failed runs are logged and do not stop the loop.
func runScheduled(ctx context.Context, spec string, runner *pipeline.Runner, stdout io.Writer) error {
	job := func() {
		res, err := runner.Run(ctx)
		if err != nil {
			if ctx.Err() == nil {
				appLog.Error("conversion failed", err)
			}
			return
		}
		fmt.Fprintln(stdout, res.Summary())
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	job()

	c.Start()
	appLog.Info("scheduler started", "schedule", spec)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("scheduler stopped")
	return nil
}

// cronLogger routes cron's own logging into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
