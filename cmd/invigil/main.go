package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/invigil"
	"github.com/loykin/invigil/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the command tree writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := newCommand(globalFlags, out)

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(cmd),
		createTransitionCommand(cmd, "pause", "Pause the running session"),
		createTransitionCommand(cmd, "resume", "Resume a paused session"),
		createTransitionCommand(cmd, "skip", "Mark the current step as done"),
		createTransitionCommand(cmd, "end", "End the session"),
		createTransitionCommand(cmd, "restore", "Reload the persisted session"),
		createResetCommand(cmd),
		createStatusCommand(cmd),
		createWatchCommand(cmd),
		createTimeCommand(cmd),
		createTemplatesCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "invigil",
		Short: "Exam session timeline and reminder daemon",
		Long: `Invigil keeps an exam session on schedule: it follows a template of
timed steps on a network-corrected clock and raises reminders before each step.

Examples:
  invigil serve --config invigil.toml     # Start daemon
  invigil start --template math-2025      # Start a session now
  invigil start --template math-2025 --at 09:00
  invigil watch                           # Follow progress and reminders
  invigil time status`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "daemon URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for a TLS daemon")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print JSON output")
	return root
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the invigil daemon",
		Long: `Run the daemon: HTTP API, clock synchronisation and the session ticker.
Without a config file the defaults are used, overridable with INVIGIL_* variables.

Examples:
  invigil serve
  invigil serve invigil.toml
  INVIGIL_SERVER_LISTEN=0.0.0.0:8686 invigil serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path)
		},
	}
}

func runServe(ctx context.Context, path string) error {
	cfg, err := invigil.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	slog.SetDefault(cfg.Log.NewSlogger())

	e, err := invigil.New(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("invigil starting", "config", path, "store", cfg.Session.Store, "sinks", len(cfg.History.Sinks))
	return e.Run(ctx)
}

func createStartCommand(c *command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session from a template",
		Long: `Start a session. Without --at the daemon's corrected clock sets the start.

Examples:
  invigil start --template math-2025
  invigil start --template english-2025 --at 14:30
  invigil start --template math-2025 --at 2025-06-07T09:00:00+08:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.TemplateID, "template", "", "template id (required)")
	cmd.Flags().StringVar(&f.At, "at", "", "start time: RFC3339 or HH:MM today")
	if err := cmd.MarkFlagRequired("template"); err != nil {
		panic(err)
	}
	return cmd
}

func createTransitionCommand(c *command, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Transition(cmd.Context(), action)
		},
	}
}

func createResetCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the session, running or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Reset(cmd.Context())
		},
	}
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and its progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context())
		},
	}
}

func createWatchCommand(c *command) *cobra.Command {
	f := &WatchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow progress and reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Watch(ctx, *f)
		},
	}
	cmd.Flags().BoolVar(&f.Bell, "bell", false, "ring the terminal bell on reminders")
	return cmd
}

func createTimeCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Inspect and synchronise the corrected clock",
	}
	probe := &ProbeFlags{}
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Query the configured time sources directly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TimeProbe(cmd.Context(), *probe)
		},
	}
	probeCmd.Flags().StringVar(&probe.Source, "source", "", "only probe the named source")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show corrected time and sync health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.TimeStatus(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Force a time synchronisation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.TimeSync(cmd.Context())
			},
		},
		probeCmd,
	)
	return cmd
}

func createTemplatesCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template"},
		Short:   "List and inspect session templates",
	}
	show := &ShowFlags{}
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the timeline of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateShow(cmd.Context(), args[0], *show)
		},
	}
	showCmd.Flags().StringVar(&show.At, "at", "", "render times for a start at RFC3339 or HH:MM")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available templates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.TemplatesList(cmd.Context())
			},
		},
		showCmd,
	)
	return cmd
}
