package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/gemkiln/config"
	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/logging"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		var usageErr *gem.UsageError
		switch {
		case errors.As(err, &usageErr):
			fmt.Fprintf(os.Stderr, "Error: %s\n\n%s", usageErr.Error(), root.UsageString())
			os.Exit(2)
		case errors.Is(err, context.Canceled):
			slog.Warn("run interrupted", "error", err)
			os.Exit(130)
		default:
			slog.Error("run failed", "error", err)
			os.Exit(1)
		}
	}
}

func newRootCommand(levelVar *slog.LevelVar) *cobra.Command {
	var (
		logLevel      string
		logJSON       bool
		profilePath   string
		profileName   string
		platformFlag  string
		runtimeBinary string
		workspace     string
		keep          bool
		strict        bool
		skipRegistry  bool
	)

	root := &cobra.Command{
		Use:   "gemkiln <gem-name> <gem-version>",
		Short: "Build and install a precompiled variant of a native-extension Ruby gem",
		Long: "gemkiln compiles a gem's native extension inside a disposable Docker\n" +
			"container, repackages the gem with the compiled objects in place of the\n" +
			"extension sources, and installs the result on the host.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return &gem.UsageError{
					Message: fmt.Sprintf("expected <gem-name> <gem-version>, got %d argument(s)", len(args)),
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			version := strings.TrimSpace(args[1])

			cmdLogger := slog.Default().With("command", "build")

			outcome, err := config.Precompile(cmd.Context(), name, version, config.Options{
				ProfilePath:       profilePath,
				ProfileName:       profileName,
				Platform:          platformFlag,
				RuntimeBinary:     runtimeBinary,
				Workspace:         workspace,
				Keep:              keep,
				Strict:            strict,
				SkipRegistryCheck: skipRegistry,
			}, cmdLogger)
			if err != nil {
				cmdLogger.Error("precompile failed", "error", err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "installed %s %s (compiled objects: %d)\n", name, version, len(outcome.Binaries))
			for _, warning := range outcome.Warnings {
				fmt.Fprintln(out, "warning:", warning)
			}
			if keep {
				fmt.Fprintln(out, "artifacts kept at", outcome.GemPath)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit structured JSON log records")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		levelVar.Set(level)
		if logJSON {
			slog.SetDefault(logging.NewJSON(os.Stderr, levelVar))
		} else {
			slog.SetDefault(logging.NewCLI(os.Stderr, levelVar))
		}
		return nil
	}

	root.Flags().StringVar(&profilePath, "config", "", "Path to a YAML build profile")
	root.Flags().StringVar(&profileName, "profile", "", "Built-in starter profile (see 'gemkiln profiles')")
	root.Flags().StringVar(&platformFlag, "platform", "", "Target platform for the build image (e.g. linux/amd64)")
	root.Flags().StringVar(&runtimeBinary, "docker", config.DefaultRuntimeBinary, "Container runtime binary")
	root.Flags().StringVar(&workspace, "workspace", config.DefaultWorkspace, "Transient directory for build artifacts")
	root.Flags().BoolVar(&keep, "keep", false, "Keep the packaged output and rebuilt gem after the run")
	root.Flags().BoolVar(&strict, "strict", false, "Treat a failed load verification as an error")
	root.Flags().BoolVar(&skipRegistry, "skip-registry-check", false, "Skip the rubygems.org version preflight")

	root.AddCommand(newInitConfigCommand())
	root.AddCommand(newProfilesCommand())
	return root
}

func newInitConfigCommand() *cobra.Command {
	var starter string

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a build profile to a YAML file for editing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "gemkiln.yaml"
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				path = strings.TrimSpace(args[0])
			}
			if err := config.WriteProfile(path, starter); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&starter, "profile", "", "Built-in starter profile to seed from")
	return cmd
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in starter profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			starters, err := config.Profiles()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, starter := range starters {
				fmt.Fprintf(out, "%-12s %-10s %s\n", starter.Name, starter.Profile.BaseImage, starter.Summary)
			}
			return nil
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
