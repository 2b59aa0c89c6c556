package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/genwatch/internal/observability"
	"github.com/3leaps/genwatch/pkg/jobapi"
)

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow the progress of an already submitted job",
	Long: `Attach to the progress stream of a job submitted earlier and follow it
until it completes or fails.

Examples:
  genwatch watch 18345
  genwatch watch 18345 --copy`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var watchCopy bool

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&watchCopy, "copy", false, "Copy the result URL to the clipboard")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg

	copyURL := cfg.Output.Copy
	if cmd.Flags().Changed("copy") {
		copyURL = watchCopy
	}

	s, err := startSession(ctx, cfg, newRenderer(ctx, cfg, stdout, copyURL))
	if err != nil {
		return err
	}
	defer s.stop()

	handle := jobapi.JobHandle{JobID: strings.TrimSpace(args[0])}
	observability.CLILogger.Debug("Watching job", zap.String("task_id", handle.JobID))

	s.ctrl.Watch(handle)
	_, err = s.awaitOutcome(ctx, 1)
	return err
}
