// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/observability"
)

// Process exit codes.
const (
	ExitPassed = 0
	// ExitFailed: an assertion failed, a scenario errored, or the run was cancelled.
	ExitFailed = 1
	// ExitFatal: the run could not complete, or the configuration is invalid.
	ExitFatal = 2
)

// ExitError carries the exit code a command wants the process to end with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitPassed
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFatal
}

type configKeyType struct{}

var configKey = configKeyType{}

// configFrom returns the configuration stored by the root command's pre-run.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, &ExitError{Code: ExitFatal, Err: errors.New("configuration not loaded")}
	}
	return cfg, nil
}

// noConfig marks commands that run without loading configuration.
const noConfig = "uiprobe/no-config"

// NewRootCommand builds a fresh command tree. Each call returns independent flag state.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile string
		envFile string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "uiprobe",
		Short: "uiprobe drives a browser through UI scenarios across viewports and reports what it saw.",
		// Version is set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[noConfig] == "true" {
				return nil
			}
			cfg, err := loadConfig(cfgFile, envFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "uiprobe"})
				return &ExitError{Code: ExitFatal, Err: err}
			}

			observability.InitializeLogger(cfg.Logger())
			if verbose {
				observability.SetLevel(zap.DebugLevel)
			}
			observability.GetLogger().Debug("Starting uiprobe", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./uiprobe.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCompareCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the command tree under ctx, which carries the process-wide cancellation.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		if ExitCode(err) == ExitFatal {
			observability.GetLogger().Error("Command failed", zap.Error(err))
		}
		// An ExitError without a cause only carries the status; the report already said why.
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			root.PrintErrln("Error:", err)
		}
	}
	observability.Sync()
	return err
}

// loadConfig resolves configuration with the precedence flags > env > file > defaults.
func loadConfig(cfgFile, envFile string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	if err := initializeConfig(v, cfgFile); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load or validate config: %w", err)
	}
	return cfg, nil
}

// initializeConfig reads in the config file and environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("uiprobe")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("UIPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}
	return nil
}
