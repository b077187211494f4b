package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/sentiencex/internal/artifact"
	"github.com/stellarlinkco/sentiencex/internal/config"
	"github.com/stellarlinkco/sentiencex/internal/dialogue"
	"github.com/stellarlinkco/sentiencex/internal/gateway"
	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/logging"
)

// GatewayFactory creates the gateway (allows injection in tests)
type GatewayFactory func(cfg *config.Config, logger *zap.Logger) (*gateway.Gateway, error)

// DefaultGatewayFactory samples real system resources.
func DefaultGatewayFactory(cfg *config.Config, logger *zap.Logger) (*gateway.Gateway, error) {
	return gateway.NewWithOptions(cfg, gateway.Options{Logger: logger})
}

// CommandOptions for running commands with custom dependencies
type CommandOptions struct {
	GatewayFactory GatewayFactory
	Logger         *zap.Logger
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

func (o CommandOptions) withDefaults() CommandOptions {
	if o.GatewayFactory == nil {
		o.GatewayFactory = DefaultGatewayFactory
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

var rootCmd = &cobra.Command{
	Use:          "sentiencex",
	Short:        "sentiencex - local, offline emotional-support companion",
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in single message or REPL mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChatWithOptions(CommandOptions{})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maintenance jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServeWithOptions(CommandOptions{})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Rate the last reply (or a template) with -1, 0 or 1",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeedbackWithOptions(CommandOptions{})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show health and memory status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatusWithOptions(CommandOptions{})
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Flush memory snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompactWithOptions(CommandOptions{})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <topic>",
	Short: "Mark an unresolved topic as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolveWithOptions(CommandOptions{}, args[0])
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config, data directory and starter artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboardWithOptions(CommandOptions{})
	},
}

var (
	messageFlag  string
	adminFlag    bool
	diagFlag     bool
	ratingFlag   int
	templateFlag string
	toneFlag     string
	noteFlag     string
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().BoolVar(&diagFlag, "diagnostics", false, "Print reply diagnostics as JSON")
	rootCmd.PersistentFlags().BoolVar(&adminFlag, "admin", false, "Privileged session: bypass resource governance")
	feedbackCmd.Flags().IntVar(&ratingFlag, "rating", 0, "Rating: -1, 0 or 1")
	feedbackCmd.Flags().StringVar(&templateFlag, "template", "", "Template id (defaults to the last reply)")
	feedbackCmd.Flags().StringVar(&toneFlag, "tone", "", "Tone of the rated reply")
	feedbackCmd.Flags().StringVar(&noteFlag, "note", "", "Free-form note")
	_ = feedbackCmd.MarkFlagRequired("rating")
	rootCmd.AddCommand(chatCmd, serveCmd, feedbackCmd, statusCmd, compactCmd, resolveCmd, onboardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// open loads config and builds the logger and gateway.
func open(opts CommandOptions) (*gateway.Gateway, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return nil, nil, fmt.Errorf("init logger: %w", err)
		}
	}
	gw, err := opts.GatewayFactory(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("create gateway: %w", err)
	}
	if adminFlag {
		gw.SetAdmin(true)
	}
	return gw, logger, nil
}

func closeGateway(gw *gateway.Gateway, logger *zap.Logger, stderr io.Writer) {
	if err := gw.Shutdown(); err != nil {
		fmt.Fprintf(stderr, "Shutdown: %v\n", err)
	}
	_ = logger.Sync()
}

func runChatWithOptions(opts CommandOptions) error {
	opts = opts.withDefaults()
	gw, logger, err := open(opts)
	if err != nil {
		return err
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		defer closeGateway(gw, logger, opts.Stderr)
		reply, err := gw.HandleUserMessage(ctx, messageFlag, map[string]any{"client": "cli"})
		if err != nil {
			return fmt.Errorf("handle message: %w", err)
		}
		printReply(opts.Stdout, reply)
		return nil
	}

	// REPL mode: maintenance jobs run alongside the conversation
	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- gw.Run(runCtx) }()
	defer func() {
		cancel()
		if err := <-runDone; err != nil {
			fmt.Fprintf(opts.Stderr, "Shutdown: %v\n", err)
		}
		_ = logger.Sync()
	}()

	fmt.Fprintln(opts.Stdout, "sentiencex chat (type 'exit' to quit, '/good' or '/bad' to rate the last reply)")
	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if rating, ok := replRating(input); ok {
			if _, err := gw.ApplyExplicitFeedback(ctx, learning.ExplicitFeedback{Rating: rating}); err != nil {
				fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Fprintln(opts.Stdout, "Thanks, noted.")
			continue
		}

		reply, err := gw.HandleUserMessage(ctx, input, map[string]any{"client": "cli-repl"})
		if err != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			continue
		}
		printReply(opts.Stdout, reply)
	}
	return nil
}

func replRating(input string) (int, bool) {
	switch input {
	case "/good", "/+1":
		return 1, true
	case "/meh", "/0":
		return 0, true
	case "/bad", "/-1":
		return -1, true
	}
	return 0, false
}

func printReply(w io.Writer, reply dialogue.Reply) {
	fmt.Fprintln(w, reply.Text)
	if diagFlag {
		data, err := json.MarshalIndent(reply, "", "  ")
		if err == nil {
			fmt.Fprintln(w, string(data))
		}
	}
}

func runServeWithOptions(opts CommandOptions) error {
	opts = opts.withDefaults()
	gw, logger, err := open(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runFeedbackWithOptions(opts CommandOptions) error {
	opts = opts.withDefaults()
	gw, logger, err := open(opts)
	if err != nil {
		return err
	}
	defer closeGateway(gw, logger, opts.Stderr)

	sig, err := gw.ApplyExplicitFeedback(context.Background(), learning.ExplicitFeedback{
		Rating:     ratingFlag,
		TemplateID: templateFlag,
		Tone:       toneFlag,
		Note:       noteFlag,
	})
	if err != nil {
		return fmt.Errorf("apply feedback: %w", err)
	}
	fmt.Fprintf(opts.Stdout, "Feedback recorded: success=%v weight=%.2f\n", sig.Success, sig.Weight)
	return nil
}

func runStatusWithOptions(opts CommandOptions) error {
	opts = opts.withDefaults()
	gw, logger, err := open(opts)
	if err != nil {
		return err
	}
	defer closeGateway(gw, logger, opts.Stderr)

	h, err := gw.Health(context.Background())
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	w := opts.Stdout
	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(w, "Session: %s\n", h.SessionID)
	fmt.Fprintf(w, "Governor: level=%s admin=%v\n", h.Hints.Level, h.Admin)
	fmt.Fprintf(w, "Resources: cpu=%.1f%% mem=%.1f%% rss=%.1fMB\n", h.Resources.CPUPercent, h.Resources.MemPercent, h.Resources.RSSMB)
	fmt.Fprintf(w, "Memory: stm=%d facts=%d topics=%d unresolved=%d episodes=%d\n",
		h.Memory.ShortTerm, h.Memory.Facts, h.Memory.Topics, h.Memory.Unresolved, h.Memory.Episodes)
	fmt.Fprintf(w, "Index: docs=%d terms=%d\n", h.Memory.IndexDocs, h.Memory.IndexTerms)
	fmt.Fprintf(w, "Learning: arms=%d\n", h.LearningArms)
	fmt.Fprintf(w, "Events: queued=%d dropped=%d\n", h.EventsQueued, h.EventsDropped)
	if h.Journal != nil {
		fmt.Fprintf(w, "Journal: events=%d feedback=%d\n", h.Journal.Events, h.Journal.Feedback)
	}
	for _, j := range h.Jobs {
		fmt.Fprintf(w, "Job %s: every=%s status=%s\n", j.Name, j.Every, statusOrNever(j.State.LastStatus))
	}
	return nil
}

func statusOrNever(s string) string {
	if s == "" {
		return "never"
	}
	return s
}

func runCompactWithOptions(opts CommandOptions) error {
	opts = opts.withDefaults()
	gw, logger, err := open(opts)
	if err != nil {
		return err
	}
	defer closeGateway(gw, logger, opts.Stderr)

	if err := gw.Compact(context.Background()); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	fmt.Fprintln(opts.Stdout, "Memory compacted")
	return nil
}

func runResolveWithOptions(opts CommandOptions, topic string) error {
	opts = opts.withDefaults()
	gw, logger, err := open(opts)
	if err != nil {
		return err
	}
	defer closeGateway(gw, logger, opts.Stderr)

	ok, err := gw.MarkResolved(context.Background(), strings.ToLower(strings.TrimSpace(topic)))
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if !ok {
		fmt.Fprintf(opts.Stdout, "No unresolved topic %q\n", topic)
		return nil
	}
	fmt.Fprintf(opts.Stdout, "Resolved: %s\n", topic)
	return nil
}

func runOnboardWithOptions(opts CommandOptions) error {
	opts = opts.withDefaults()
	w := opts.Stdout
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(w, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	created, err := artifact.Seed(cfg.ArtifactsDir)
	if err != nil {
		return err
	}
	for _, p := range created {
		fmt.Fprintf(w, "  Created: %s\n", p)
	}

	fmt.Fprintf(w, "Data dir ready: %s\n", cfg.DataDir)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Edit %s to tune thresholds and jobs\n", cfgPath)
	fmt.Fprintln(w, "  2. Or set SENTIENCEX_* environment variables")
	fmt.Fprintln(w, "  3. Run 'sentiencex chat -m \"Hello\"' to test")
	return nil
}
