package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"contentforge/internal/config"
	"contentforge/internal/logging"
)

var (
	// Global flags
	configPath string
	workspace  string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "contentforge - grounded campaign flow engine",
	Long: `contentforge runs campaign content flows: ordered prompt steps that
ground themselves in project documents (full text or retrieved chunks),
feed earlier outputs into later steps, and dispatch to the model each
step configures. Deep research models run in the background and survive
process restarts; everything lands in a local SQLite store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		return logging.Initialize(workspace, logging.Settings{
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes a whole campaign flow
var runCmd = &cobra.Command{
	Use:   "run [campaign-id]",
	Short: "Run every step of a campaign's flow in order",
	Long: `Executes the campaign's flow start to finish. Steps run in (order, id)
sequence; each step sees the stored outputs of the steps it auto-receives
from. Background research steps are waited on so downstream steps can use
their reports. The run aborts at the first failing step.`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaign,
}

// stepCmd executes one step
var stepCmd = &cobra.Command{
	Use:   "step [campaign-id] [step-id]",
	Short: "Run a single flow step",
	Long: `Runs one step against the campaign's stored state. Upstream outputs
must already exist (from earlier runs or manual edits). Use --model to
re-run a failed step under a substitute model.

Example:
  forge step camp-42 market-analysis --model claude-sonnet-4-5`,
	Args: cobra.ExactArgs(2),
	RunE: runStep,
}

// pollCmd polls the campaign's background research task
var pollCmd = &cobra.Command{
	Use:   "poll [campaign-id]",
	Short: "Poll the campaign's in-flight deep research task",
	Long: `Performs one poll of the campaign's background research task and
prints progress. When the task has finished, the report is merged into
the campaign's step outputs. Use --wait to block until the task reaches
a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: pollTask,
}

// ongoingCmd reports any in-flight research task
var ongoingCmd = &cobra.Command{
	Use:   "ongoing [campaign-id]",
	Short: "Show the campaign's in-flight research task, if any",
	Long: `Checks the store for a PROCESSING research task handle. Handles are
persisted at dispatch time, so this works across process restarts: run it
after a crash to find a task that is still running server-side.`,
	Args: cobra.ExactArgs(1),
	RunE: showOngoing,
}

// statusCmd summarizes a campaign
var statusCmd = &cobra.Command{
	Use:   "status [campaign-id]",
	Short: "Show campaign status, step outputs, and stale steps",
	Args:  cobra.ExactArgs(1),
	RunE:  showStatus,
}

// validateCmd validates a flow config file
var validateCmd = &cobra.Command{
	Use:   "validate [flow.yaml]",
	Short: "Validate a flow config file",
	Long: `Loads a flow config and runs graph validation: unique step ids,
resolvable auto_receive_from references, no dependency cycles.

With --watch, keeps running and revalidates on every save. Invalid edits
are reported and the last valid result stays on screen.`,
	Args: cobra.ExactArgs(1),
	RunE: validateFlow,
}

// lintCmd runs the advisory lint surface on a campaign
var lintCmd = &cobra.Command{
	Use:   "lint [campaign-id]",
	Short: "Report advisory findings for a campaign",
	Long: `Runs the non-blocking checks: template variables without values,
required document slots that match no base document, campaign status
outside the project catalog, and outputs made stale by re-run upstream
steps. Findings never block execution.`,
	Args: cobra.ExactArgs(1),
	RunE: lintCampaign,
}

// editCmd applies a manual edit to a step output
var editCmd = &cobra.Command{
	Use:   "edit [campaign-id] [step-id]",
	Short: "Manually edit a step output",
	Long: `Replaces a step's output with text from --file (or stdin). The first
edit preserves the machine-generated original, so revert stays available.`,
	Args: cobra.ExactArgs(2),
	RunE: editOutput,
}

// revertCmd restores the machine-generated output
var revertCmd = &cobra.Command{
	Use:   "revert [campaign-id] [step-id]",
	Short: "Restore a step's last machine-generated output",
	Args:  cobra.ExactArgs(2),
	RunE:  revertOutput,
}

// suggestCmd asks a model to rewrite a step output
var suggestCmd = &cobra.Command{
	Use:   "suggest [campaign-id] [step-id] [instruction]",
	Short: "Ask a model to suggest an edit to a step output",
	Long: `Sends the step's current output and your instruction to the step's
model and prints the suggested rewrite. Nothing is persisted; apply a
suggestion you like with 'forge edit'.

Example:
  forge suggest camp-42 exec-summary "tighten this to one page"`,
	Args: cobra.ExactArgs(3),
	RunE: suggestEdit,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "forge.yaml", "Path to forge.yaml")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	stepCmd.Flags().StringVar(&overrideModel, "model", "", "Substitute model for this run")
	stepCmd.Flags().Float64Var(&overrideTemperature, "temperature", -1, "Override temperature for this run")
	stepCmd.Flags().IntVar(&overrideMaxTokens, "max-tokens", 0, "Override max output tokens for this run")
	pollCmd.Flags().BoolVar(&pollWait, "wait", false, "Block until the task reaches a terminal state")
	validateCmd.Flags().BoolVar(&validateWatch, "watch", false, "Revalidate on every save until interrupted")
	editCmd.Flags().StringVar(&editFile, "file", "", "File with the replacement text (default: stdin)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(ongoingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(suggestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
