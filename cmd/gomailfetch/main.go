package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tracyhatemice/gomailfetch/internal/config"
	"github.com/tracyhatemice/gomailfetch/internal/diagnostics"
	"github.com/tracyhatemice/gomailfetch/internal/fetcher"
	"github.com/tracyhatemice/gomailfetch/internal/model"
	"github.com/tracyhatemice/gomailfetch/internal/store"
	"github.com/tracyhatemice/gomailfetch/internal/transport"
)

type options struct {
	email          string
	testConnection bool
	days           *int
	senders        string
	keywords       string
	cardKey        string
	adminAccess    bool
	configPath     string
	dbPath         string
	envFile        string
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the exit code. Usage errors
// happen before any result exists and go to stderr.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprintln(stderr, cmd.UsageString())
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var (
		opts options
		days int
	)
	cmd := &cobra.Command{
		Use:   "gomailfetch <email>",
		Short: "Fetch the latest matching mail from a registered mailbox",
		Long: `gomailfetch looks up a mailbox account in the record store, connects to
its IMAP server (through the active proxy, if any) and prints the newest
message matching the filters as one JSON object on stdout.

With --test-connection it stops after selecting the mailbox and reports
the outcome of every connection stage instead.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.email = args[0]
			if cmd.Flags().Changed("days-filter") {
				opts.days = &days
			}
			return writeResult(stdout, run(cmd.Context(), opts))
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.testConnection, "test-connection", false, "only test the connection and print diagnostics")
	f.IntVar(&days, "days-filter", 0, "only consider mail received within the last N days")
	f.StringVar(&opts.senders, "sender-filter", "", "comma separated sender address fragments")
	f.StringVar(&opts.keywords, "keyword-filter", "", "comma separated subject keywords")
	f.StringVar(&opts.cardKey, "card-key", "", "access token, logged masked for correlation")
	f.BoolVar(&opts.adminAccess, "admin-access", false, "mark the request as made by an administrator")
	f.StringVar(&opts.configPath, "config", "", "path to configuration file (default $"+config.EnvConfig+" or "+config.DefaultPath+")")
	f.StringVar(&opts.dbPath, "db", "", "path to the record store database (overrides config)")
	f.StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the configuration")
	return cmd
}

// run never fails: every error becomes an unsuccessful result.
func run(ctx context.Context, opts options) (result model.FetchResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.Default()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("unexpected panic", "panic", p)
			result = serverError(fmt.Errorf("%v", p))
		}
	}()

	env, err := config.Env(opts.envFile)
	if err != nil {
		return serverError(err)
	}
	path := opts.configPath
	if path == "" {
		path = env[config.EnvConfig]
	}
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path, env)
	if err != nil {
		return serverError(err)
	}
	if opts.dbPath != "" {
		cfg.Database = opts.dbPath
	}

	logger = setupLogger(cfg.LogLevel).With("run_id", uuid.NewString(), "email", opts.email)
	logger.Info("request received",
		"test_connection", opts.testConnection,
		"card_key", maskKey(opts.cardKey),
		"admin_access", opts.adminAccess,
	)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.OverallDuration())
	defer cancel()

	db, err := store.Open(cfg.Database)
	if err != nil {
		logger.Error("cannot open record store", "error", err)
		return serverError(err)
	}
	defer db.Close()

	proxy, err := db.ActiveProxy(ctx)
	if err != nil {
		logger.Error("cannot read proxy configuration", "error", err)
		return serverError(err)
	}
	resolver := transport.NewResolver(proxy, cfg.Timeouts.Transport(), cfg.TLS.SkipVerify, logger)

	account, err := db.LookupAccount(ctx, opts.email)
	if errors.Is(err, store.ErrAccountNotFound) {
		logger.Warn("unknown mailbox")
		return model.FetchResult{
			Message: fmt.Sprintf("%s (%s)", err, resolver.Route()),
			Proxy:   proxy.Echo(),
		}
	}
	if err != nil {
		logger.Error("account lookup failed", "error", err)
		return serverError(err)
	}

	if opts.testConnection {
		return diagnostics.New(resolver, diagnostics.Options{
			Mailbox:   cfg.Mailbox,
			IOTimeout: cfg.Timeouts.IODuration(),
			Logger:    logger,
		}).Test(ctx, account)
	}

	criteria := model.FilterCriteria{
		Days:     opts.days,
		Senders:  model.ParseList(opts.senders),
		Keywords: model.ParseList(opts.keywords),
	}
	result, _ = fetcher.New(resolver, fetcher.Options{
		Mailbox:   cfg.Mailbox,
		IOTimeout: cfg.Timeouts.IODuration(),
		Logger:    logger,
	}).Fetch(ctx, account, criteria)
	return result
}

func serverError(err error) model.FetchResult {
	return model.FetchResult{Message: "server error: " + err.Error()}
}

func writeResult(w io.Writer, result model.FetchResult) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
