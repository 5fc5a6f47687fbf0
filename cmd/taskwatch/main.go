// Package main implements taskwatch, a terminal client that mirrors a
// user's background tasks using the same polling and merge rules as the
// web client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/platform/logger"
	"github.com/phrazzld/resumate-api/internal/tasksync"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type options struct {
	APIURL   string
	Token    string
	DeviceID string
	Interval time.Duration
	Once     bool
	JSON     bool
	Cancel   string
	Delete   string
	LogLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "taskwatch: %v\n", err)
		os.Exit(1)
	}
}

// parseOptions reads flags, falling back to RESUMATE_-prefixed environment
// variables (RESUMATE_API_URL, RESUMATE_TOKEN, ...) for unset flags.
func parseOptions(args []string, stderr io.Writer) (options, error) {
	fs := pflag.NewFlagSet("taskwatch", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("api-url", "http://localhost:8080", "base URL of the API")
	fs.String("token", "", "access token")
	fs.String("device", "", "only show tasks started on this device")
	fs.Duration("interval", tasksync.DefaultInterval, "poll interval")
	fs.Bool("once", false, "sync once, print and exit")
	fs.Bool("json", false, "print tasks as JSON")
	fs.String("cancel", "", "cancel the task with this ID and exit")
	fs.String("delete", "", "delete the finished task with this ID and exit")
	fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("RESUMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return options{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	opts := options{
		APIURL:   v.GetString("api-url"),
		Token:    v.GetString("token"),
		DeviceID: v.GetString("device"),
		Interval: v.GetDuration("interval"),
		Once:     v.GetBool("once"),
		JSON:     v.GetBool("json"),
		Cancel:   v.GetString("cancel"),
		Delete:   v.GetString("delete"),
		LogLevel: v.GetString("log-level"),
	}
	if opts.Token == "" {
		return options{}, errors.New("an access token is required (--token or RESUMATE_TOKEN)")
	}
	if opts.Interval <= 0 {
		return options{}, fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}

	log, err := logger.New(stderr, opts.LogLevel)
	if err != nil {
		return err
	}

	fetcher, err := tasksync.NewHTTPFetcher(opts.APIURL, opts.Token, nil)
	if err != nil {
		return err
	}
	syncer := tasksync.NewSyncer(fetcher, tasksync.Config{
		DeviceID: opts.DeviceID,
		Interval: opts.Interval,
	}, log)

	switch {
	case opts.Cancel != "":
		id, err := uuid.Parse(opts.Cancel)
		if err != nil {
			return fmt.Errorf("invalid task ID %q: %w", opts.Cancel, err)
		}
		if err := syncer.Cancel(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "cancelled %s\n", id)
		return nil

	case opts.Delete != "":
		id, err := uuid.Parse(opts.Delete)
		if err != nil {
			return fmt.Errorf("invalid task ID %q: %w", opts.Delete, err)
		}
		if err := syncer.Remove(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted %s\n", id)
		return nil

	case opts.Once:
		if err := syncer.SyncOnce(ctx, true); err != nil {
			return err
		}
		return printTasks(stdout, syncer.Tasks(), opts.JSON)
	}

	go func() {
		if err := syncer.Run(ctx); err != nil {
			log.Error("task sync stopped", "error", err)
		}
	}()
	return watch(ctx, stdout, syncer, opts)
}

// watch prints the task list whenever it changes until ctx is done.
func watch(ctx context.Context, stdout io.Writer, syncer *tasksync.Syncer, opts options) error {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var b strings.Builder
		if err := printTasks(&b, syncer.Tasks(), opts.JSON); err != nil {
			return err
		}
		if b.String() == last {
			continue
		}
		last = b.String()
		fmt.Fprintf(stdout, "# %s\n%s\n", time.Now().Format(time.TimeOnly), last)
	}
}

func printTasks(w io.Writer, tasks []tasksync.LocalTask, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tDEVICE\tUPDATED\tERROR")
	for _, t := range tasks {
		errMsg := ""
		if t.Error != nil {
			errMsg = *t.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Type, t.Status, t.DeviceID,
			t.UpdatedAt.Local().Format(time.DateTime), errMsg)
	}
	return tw.Flush()
}
