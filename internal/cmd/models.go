package cmd

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/genwatch/internal/config"
	"github.com/3leaps/genwatch/internal/observability"
	"github.com/3leaps/genwatch/pkg/jobapi"
	"github.com/3leaps/genwatch/pkg/output"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the service",
	Long: `List the models (variants) the service offers for the configured API key,
in the order the service returns them.

Examples:
  genwatch models
  genwatch models --match 'sora-*'
  genwatch models -o jsonl`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

var modelsMatch string

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().StringVar(&modelsMatch, "match", "", "Only show models matching this glob pattern")
}

func runModels(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appCfg

	if modelsMatch != "" && !doublestar.ValidatePattern(modelsMatch) {
		return exitError(exitInvalidArgument, "Invalid --match pattern", fmt.Errorf("%q is not a valid glob", modelsMatch))
	}

	var jw *output.JSONLWriter
	if cfg.Output.Format == config.OutputJSONL {
		jw = output.NewJSONLWriter(stdout, uuid.NewString())
		defer func() { _ = jw.Close() }()
	}

	client, err := newClient(cfg)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid API configuration", err)
	}

	variants, err := client.ListVariants(ctx, jobapi.Credential(cfg.API.Key))
	if err != nil {
		observability.CLILogger.Error("Failed to list models", zap.Error(err))
		if jw != nil {
			if werr := jw.WriteError(ctx, errorRecord(err)); werr != nil {
				observability.CLILogger.Debug("Failed to emit error record", zap.Error(werr))
			}
		}
		return exitError(apiExitCode(err), "Failed to list models", errors.New(jobapi.UserMessage(err)))
	}

	ids := filterIDs(jobapi.VariantIDs(variants), modelsMatch)
	observability.CLILogger.Debug("Listed models", zap.Int("total", len(variants)), zap.Int("shown", len(ids)))

	if jw != nil {
		if err := jw.WriteVariants(ctx, &output.VariantsRecord{Variants: ids}); err != nil {
			return exitError(exitServiceDown, "Failed to write output", err)
		}
		return nil
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(stdout, id); err != nil {
			return err
		}
	}
	return nil
}

// filterIDs keeps ids matching pattern, preserving order. An empty pattern
// keeps everything.
func filterIDs(ids []string, pattern string) []string {
	if pattern == "" {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if ok, _ := doublestar.Match(pattern, id); ok {
			out = append(out, id)
		}
	}
	return out
}

// errorRecord converts a jobapi error to its JSONL payload.
func errorRecord(err error) *output.ErrorRecord {
	rec := &output.ErrorRecord{Code: output.ErrCodeInternal, Message: jobapi.UserMessage(err)}
	switch {
	case jobapi.IsValidation(err):
		rec.Code = output.ErrCodeValidation
	case jobapi.IsProtocol(err):
		rec.Code = output.ErrCodeProtocol
	case jobapi.IsStream(err):
		rec.Code = output.ErrCodeStream
	case errors.Is(err, jobapi.ErrFetch):
		rec.Code = output.ErrCodeFetch
	case errors.Is(err, jobapi.ErrSubmit):
		rec.Code = output.ErrCodeSubmit
	case errors.Is(err, jobapi.ErrTerminal):
		rec.Code = output.ErrCodeJob
	}
	var apiErr *jobapi.APIError
	if errors.As(err, &apiErr) {
		rec.Status = apiErr.StatusCode
	}
	return rec
}
