package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sjawhar/ghost-scribe/internal/config"
	"github.com/sjawhar/ghost-scribe/internal/mcptools"
	"github.com/sjawhar/ghost-scribe/internal/scribe"
	httpserver "github.com/sjawhar/ghost-scribe/internal/server"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var cfg config.Config

	root := &cobra.Command{
		Use:          "ghost-scribe",
		Short:        "Record voice sessions per speaker, then transcribe and summarize them",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, warnings, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			// stdout is reserved for command output and the MCP transport.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
			for _, w := range warnings {
				slog.Warn(w)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the YAML config file")

	root.AddCommand(
		newServeCmd(&cfg),
		newMCPCmd(&cfg),
		newSessionsCmd(&cfg),
		newArtifactCmd(&cfg, "transcript", "Print the newest transcript of a session", func(svc *scribe.Service, name string) (scribe.Artifact, error) {
			return svc.GetLatestTranscript(name)
		}),
		newArtifactCmd(&cfg, "summary", "Print the newest summary of a session", func(svc *scribe.Service, name string) (scribe.Artifact, error) {
			return svc.GetLatestSummary(name)
		}),
		newProcessCmd(&cfg),
	)
	return root
}

func defaultConfigPath() string {
	if v := os.Getenv(config.EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the event stream and voice ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			lv, err := a.startLive(ctx)
			if err != nil {
				return err
			}
			defer lv.Close()

			slog.Info("ghost-scribe: serving", "addr", cfg.HTTPAddr)
			return httpserver.Serve(ctx, cfg.HTTPAddr, lv.handler)
		},
	}
}

// newMCPCmd runs the live service with the MCP tools on stdio. The HTTP
// listener stays up so remote speakers can still stream in.
func newMCPCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the session tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := openApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			lv, err := a.startLive(ctx)
			if err != nil {
				return err
			}
			defer lv.Close()

			httpCtx, cancelHTTP := context.WithCancel(ctx)
			defer cancelHTTP()
			go func() {
				if err := httpserver.Serve(httpCtx, cfg.HTTPAddr, lv.handler); err != nil {
					slog.Error("http server error", "error", err)
				}
			}()

			return server.ServeStdio(mcptools.NewServer(lv.service, version))
		},
	}
}

func newSessionsCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and remove stored sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd.Context(), *cfg, func(svc *scribe.Service) error {
				sessions, err := svc.ListSessions()
				if err != nil {
					return err
				}
				return printSessions(cmd.OutOrStdout(), sessions, cfg.Location())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete one session's recordings, transcripts and catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd.Context(), *cfg, func(svc *scribe.Service) error {
				if err := svc.DeleteSession(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	})

	var token string
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("confirm") {
				t, err := promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				token = t
			}
			return withOffline(cmd.Context(), *cfg, func(svc *scribe.Service) error {
				n, err := svc.PurgeAllSessions(token)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions\n", n)
				return nil
			})
		},
	}
	purge.Flags().StringVar(&token, "confirm", "", `confirmation token, must be "y"`)
	cmd.AddCommand(purge)

	return cmd
}

func newArtifactCmd(cfg *config.Config, use, short string, get func(*scribe.Service, string) (scribe.Artifact, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd.Context(), *cfg, func(svc *scribe.Service) error {
				art, err := get(svc, args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), art.Text)
				if !strings.HasSuffix(art.Text, "\n") {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return nil
			})
		},
	}
}

func newProcessCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "process <name>",
		Short: "Transcribe and summarize a stored session again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return withOffline(ctx, *cfg, func(svc *scribe.Service) error {
				outcome, err := svc.ProcessSession(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(outcome)
			})
		},
	}
}

// withOffline runs fn against stored sessions only. A session running in
// another process is invisible here.
func withOffline(ctx context.Context, cfg config.Config, fn func(*scribe.Service) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.offlineService())
}

func promptConfirm(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintf(out, "Delete ALL sessions? Type %q to confirm: ", scribe.PurgeToken)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printSessions(w io.Writer, sessions []scribe.SessionInfo, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTARTED\tSTATE\tSUMMARY\tON DISK")
	for _, s := range sessions {
		started := "-"
		if !s.StartedAt.IsZero() {
			started = s.StartedAt.In(loc).Format("2006-01-02 15:04")
		}
		status := string(s.SummaryStatus)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.ID, started, s.State, status, s.OnDisk)
	}
	return tw.Flush()
}
