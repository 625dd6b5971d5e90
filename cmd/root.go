package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/porthorian/procureauth"
)

var BuildVersion = "dev"

type rootOptions struct {
	configPath string
	backendURL string
	storage    string
	locale     string
	verbose    bool
}

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "procureauth",
		Short:         "Procurement dashboard session CLI",
		Long:          "Log in to the procurement dashboard backend, inspect the current session and call authenticated endpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to the YAML config file. Defaults to <user config dir>/procureauth/config.yaml.")
	flags.StringVar(&opts.backendURL, "backend-url", "", "Dashboard backend base URL. Overrides backend.url and PROCUREAUTH_BACKEND_URL.")
	flags.StringVar(&opts.storage, "storage", "", "Credential store backend: memory, sqlite, postgres or redis. Overrides PROCUREAUTH_STORAGE.")
	flags.StringVar(&opts.locale, "locale", "en", "Locale for role display names.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log session lifecycle detail to stderr.")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of procureauth",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
	root.AddCommand(
		newMigrateCommand(),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newWhoamiCommand(opts),
		newRolesCommand(opts),
		newCallCommand(opts),
	)

	return root
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func newLogger(verbose bool, w io.Writer) logr.Logger {
	if !verbose {
		return logr.Discard()
	}
	config := zap.NewDevelopmentConfig()
	config.OutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	zl, err := config.Build()
	if err != nil {
		fmt.Fprintf(w, "warning: logger disabled: %v\n", err)
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

// newClient builds a client from file, env and flag settings, in increasing
// precedence, and restores any persisted session.
func newClient(cmd *cobra.Command, opts *rootOptions) (*procureauth.Client, error) {
	cfg, err := loadCLIConfig(opts.configPath, opts.configPath != "")
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if opts.backendURL != "" {
		cfg.Backend.URL = opts.backendURL
	}
	if opts.storage != "" {
		cfg.Storage.Backend = opts.storage
	}

	runtime, err := cfg.runtime()
	if err != nil {
		return nil, err
	}
	runtime.Identity.OIDC.Opener = func(authURL string) error {
		cmd.PrintErrf("Open this URL in a browser to sign in:\n\n  %s\n\n", authURL)
		return nil
	}

	client, err := procureauth.New(procureauth.Config{
		Logger:  newLogger(opts.verbose, cmd.ErrOrStderr()),
		Runtime: runtime,
	})
	if err != nil {
		return nil, err
	}
	client.Bootstrap(cmd.Context())
	return client, nil
}
