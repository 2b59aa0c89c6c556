package cmd

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/genwatch/internal/config"
	"github.com/3leaps/genwatch/internal/observability"
	"github.com/3leaps/genwatch/pkg/jobapi"
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt...]",
	Short: "Submit a generation job and follow it to completion",
	Long: `Submit a job and stream its progress until it completes or fails.

The prompt is taken from the arguments, --prompt, or the job file. When no
model is given, the configured default is used, and failing that the first
model the service lists.

Examples:
  genwatch generate "a cat surfing a wave"
  genwatch generate --model sora-2 --size 1280x720 "city at night"
  genwatch generate --job job.yaml --copy
  genwatch generate -o jsonl "a lighthouse"`,
	RunE: runGenerate,
}

var (
	generateModel   string
	generatePrompt  string
	generateSize    string
	generateJobFile string
	generateCopy    bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateModel, "model", "m", "", "Model (variant) id")
	generateCmd.Flags().StringVarP(&generatePrompt, "prompt", "p", "", "Prompt text")
	generateCmd.Flags().StringVarP(&generateSize, "size", "s", "", "Output size, e.g. 720x1280")
	generateCmd.Flags().StringVarP(&generateJobFile, "job", "j", "", "YAML job file with model, prompt and size")
	generateCmd.Flags().BoolVar(&generateCopy, "copy", false, "Copy the result URL to the clipboard")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg

	req, err := buildJobRequest(cfg, args)
	if err != nil {
		return err
	}

	copyURL := cfg.Output.Copy
	if cmd.Flags().Changed("copy") {
		copyURL = generateCopy
	}

	s, err := startSession(ctx, cfg, newRenderer(ctx, cfg, stdout, copyURL))
	if err != nil {
		return err
	}
	defer s.stop()

	s.ctrl.OnCredentialChanged(jobapi.Credential(cfg.API.Key))
	variants, err := s.awaitVariants(ctx)
	if err != nil {
		observability.CLILogger.Error("Failed to load models", zap.Error(err))
		code := exitServiceDown
		if jobapi.Credential(cfg.API.Key).Empty() {
			code = exitInvalidArgument
		}
		if ctx.Err() != nil {
			code = exitSignalInt
		}
		return exitError(code, "Cannot submit job", err)
	}

	switch {
	case req.VariantID == "" && len(variants) > 0:
		req.VariantID = variants[0]
		observability.CLILogger.Info("No model given, using first listed", zap.String("model", req.VariantID))
	case req.VariantID != "" && !slices.Contains(variants, req.VariantID):
		observability.CLILogger.Warn("Model not offered by the service", zap.String("model", req.VariantID), zap.Strings("available", variants))
	}

	observability.CLILogger.Debug("Submitting job",
		zap.String("model", req.VariantID),
		zap.String("size", req.SizeSpec),
		zap.Int("prompt_len", len(req.Prompt)))

	s.ctrl.OnSubmit(req)
	_, err = s.awaitOutcome(ctx, 1)
	return err
}

// buildJobRequest merges, lowest precedence first: config defaults, the job
// file, flags, positional prompt.
func buildJobRequest(cfg *config.Config, args []string) (jobapi.JobRequest, error) {
	req := jobapi.JobRequest{
		VariantID: cfg.Defaults.Model,
		SizeSpec:  cfg.Defaults.Size,
	}

	if generateJobFile != "" {
		jf, err := readJobFile(generateJobFile)
		if err != nil {
			return req, err
		}
		if jf.VariantID != "" {
			req.VariantID = jf.VariantID
		}
		if jf.Prompt != "" {
			req.Prompt = jf.Prompt
		}
		if jf.SizeSpec != "" {
			req.SizeSpec = jf.SizeSpec
		}
	}

	if generateModel != "" {
		req.VariantID = generateModel
	}
	if generatePrompt != "" {
		req.Prompt = generatePrompt
	}
	if generateSize != "" {
		req.SizeSpec = generateSize
	}
	if len(args) > 0 {
		if generatePrompt != "" {
			return req, exitError(exitInvalidArgument, "Conflicting prompt", errors.New("give the prompt either as arguments or with --prompt"))
		}
		req.Prompt = strings.Join(args, " ")
	}
	return req, nil
}

// readJobFile decodes a YAML job file with model, prompt and size keys.
func readJobFile(path string) (jobapi.JobRequest, error) {
	var jf jobapi.JobRequest
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return jf, exitError(exitFileNotFound, "Job file not found", err)
		}
		return jf, exitError(exitFileReadError, "Failed to read job file", err)
	}
	if err := yaml.Unmarshal(data, &jf); err != nil {
		return jf, exitError(exitInvalidArgument, "Invalid job file", err)
	}
	return jf, nil
}
