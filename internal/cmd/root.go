// Package cmd implements the genwatch command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/genwatch/internal/config"
	"github.com/3leaps/genwatch/internal/observability"
)

const serviceName = "genwatch"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagBaseURL  string
	flagAPIKey   string
	flagOutput   string
	flagLogLevel string
	flagTimeout  string
	verbose      bool

	appCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Submit generation jobs and watch them to completion",
	Long: `genwatch drives a remote generation service: it lists the available
models, submits a job, and follows its progress stream until the job
completes or fails.

Configuration is read from genwatch.yaml, GENWATCH_* environment variables
(a .env file in the working directory is honoured), and flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBaseURL, "base-url", "", "Service base URL (api.base_url)")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key (api.key)")
	pf.StringVarP(&flagOutput, "output", "o", "", "Output format: text or jsonl (output.format)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (logging.level)")
	pf.StringVar(&flagTimeout, "timeout", "", "Per-request timeout for listing and submission (api.timeout)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	printError(rootCmd.ErrOrStderr(), err)
	return exitCodeOf(err)
}

func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// initRuntime loads configuration with changed flags as overrides and
// configures the CLI logger.
func initRuntime(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	api := map[string]any{}
	flags := cmd.Flags()

	if flags.Changed("base-url") {
		api["base_url"] = flagBaseURL
	}
	if flags.Changed("api-key") {
		api["key"] = flagAPIKey
	}
	if flags.Changed("timeout") {
		api["timeout"] = flagTimeout
	}
	if len(api) > 0 {
		overrides["api"] = api
	}
	if flags.Changed("output") {
		overrides["output"] = map[string]any{"format": flagOutput}
	}
	if flags.Changed("log-level") {
		overrides["logging"] = map[string]any{"level": flagLogLevel}
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	appCfg = cfg

	observability.InitCLILogger(serviceName, verbose, cfg.Logging.Level)
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("base_url", cfg.API.BaseURL),
		zap.Bool("api_key_set", cfg.API.Key != ""),
		zap.String("output", cfg.Output.Format))
	return nil
}

// stdout is where command output goes; tests redirect it.
var stdout io.Writer = os.Stdout
