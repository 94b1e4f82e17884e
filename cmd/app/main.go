package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"autocut-desktop/internal/bootstrap"
	"autocut-desktop/internal/config"
	"autocut-desktop/internal/logger"
)

func main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := newRootCommand()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "autocut-desktop",
		Short:         "Desktop front end for autocut, ffmpeg and Premiere export",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, log, err := buildApp(flags)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return app.Run()
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Settings file (default ~/.autocut-desktop/settings.json)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(newServeCommand(flags), newRunCommand(flags))
	return root
}

// buildApp loads settings and assembles the application without starting
// any UI.
func buildApp(flags *globalFlags) (*bootstrap.App, *logger.Logger, error) {
	path := flags.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, nil, fmt.Errorf("resolve settings path: %w", err)
		}
	}
	store := config.NewJSONStore(path)

	settings, err := store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	level := settings.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	log, err := logger.New(level)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	app, err := bootstrap.New(store, log)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap app: %w", err)
	}
	return app, log, nil
}
