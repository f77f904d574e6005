package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/birthdaybot/internal/birthday"
	"github.com/stellarlinkco/birthdaybot/internal/bus"
	"github.com/stellarlinkco/birthdaybot/internal/channel"
	"github.com/stellarlinkco/birthdaybot/internal/config"
	"github.com/stellarlinkco/birthdaybot/internal/cron"
	"github.com/stellarlinkco/birthdaybot/internal/gateway"
	"github.com/stellarlinkco/birthdaybot/internal/ledger"
	"github.com/stellarlinkco/birthdaybot/internal/llm"
	"github.com/stellarlinkco/birthdaybot/internal/logging"
)

// GroupSource lists WhatsApp groups (allows mocking in tests)
type GroupSource interface {
	Start(ctx context.Context) error
	WaitConnected(ctx context.Context) error
	ListGroups(ctx context.Context) ([]channel.GroupInfo, error)
	Stop() error
}

// CLIOptions for running commands with custom dependencies
type CLIOptions struct {
	Completer llm.Completer           // nil: configured provider
	Channels  *channel.ChannelManager // nil: built from config
	Groups    GroupSource             // nil: WhatsApp from config
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

func (o CLIOptions) stdin() io.Reader {
	if o.Stdin != nil {
		return o.Stdin
	}
	return os.Stdin
}

func (o CLIOptions) stdout() io.Writer {
	if o.Stdout != nil {
		return o.Stdout
	}
	return os.Stdout
}

func (o CLIOptions) stderr() io.Writer {
	if o.Stderr != nil {
		return o.Stderr
	}
	return os.Stderr
}

func (o CLIOptions) completer(cfg *config.Config) (llm.Completer, error) {
	if o.Completer != nil {
		return o.Completer, nil
	}
	return llm.NewFromConfig(cfg)
}

var rootCmd = &cobra.Command{
	Use:           "birthdaybot",
	Short:         "birthdaybot - answers birthday wishes in group chats",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (channels + engine + cron + status API)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd.Context())
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write the default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboardWithOptions(CLIOptions{})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config, today's wishes and job state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatusWithOptions(CLIOptions{})
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify one message, or start a prompt-testing REPL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClassifyWithOptions(cmd.Context(), CLIOptions{}, args)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Generate and validate a reply without sending it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerateWithOptions(cmd.Context(), CLIOptions{}, strings.Join(args, " "))
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [name]",
	Short: "Generate, validate and send a wish now",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSendWithOptions(cmd.Context(), CLIOptions{}, strings.Join(args, " "))
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List WhatsApp groups and their JIDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGroupsWithOptions(cmd.Context(), CLIOptions{})
	},
}

var wishesCmd = &cobra.Command{
	Use:   "wishes",
	Short: "Show today's wishes and recent decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWishesWithOptions(cmd.Context(), CLIOptions{})
	},
}

var (
	conversationFlag string
	limitFlag        int
	timeoutFlag      time.Duration
)

func init() {
	sendCmd.Flags().StringVarP(&conversationFlag, "conversation", "c", "", "Conversation id (channel:chat), default: first monitored")
	sendCmd.Flags().DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "How long to wait for channels to connect")
	groupsCmd.Flags().DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "How long to wait for WhatsApp to connect")
	wishesCmd.Flags().StringVarP(&conversationFlag, "conversation", "c", "", "Conversation id (channel:chat), default: all monitored")
	wishesCmd.Flags().IntVarP(&limitFlag, "limit", "n", 10, "Number of recent decisions to show")
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, classifyCmd, generateCmd, sendCmd, groupsCmd, wishesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and points the root logger at w.
func loadConfig(w io.Writer) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: w})
	return cfg, nil
}

func runGateway(ctx context.Context) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return gw.Run(ctx)
}

func runOnboardWithOptions(opts CLIOptions) error {
	out := opts.stdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key (or set BIRTHDAYBOT_API_KEY)\n", cfgPath)
	fmt.Fprintln(out, "  2. Run 'birthdaybot groups' to pair WhatsApp and find the group JID")
	fmt.Fprintln(out, "  3. Set channels.whatsapp.groupJid (or TARGET_GROUP_ID), then 'birthdaybot run'")
	fmt.Fprintln(out, "  Replies are dry-run until birthday.dryRun is false.")
	return nil
}

func runStatusWithOptions(opts CLIOptions) error {
	out := opts.stdout()
	cfg, err := loadConfig(opts.stderr())
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Models: classify=%s generate=%s\n", cfg.Models.Classify, cfg.Models.Generate)
	fmt.Fprintf(out, "WhatsApp: enabled=%v group=%s\n", cfg.Channels.WhatsApp.Enabled, valueOr(cfg.Channels.WhatsApp.GroupJID, "-"))
	fmt.Fprintf(out, "Telegram: enabled=%v chat=%s\n", cfg.Channels.Telegram.Enabled, valueOr(cfg.Channels.Telegram.ChatID, "-"))
	fmt.Fprintf(out, "Dry run: %v\n", cfg.Birthday.DryRun)
	fmt.Fprintf(out, "Daily cap: %d (day starts %02d:00 %s)\n", cfg.Birthday.DailyCap, cfg.Birthday.DayBoundaryHour, cfg.Location())

	store, err := gateway.OpenLedger(cfg)
	if err != nil {
		fmt.Fprintf(out, "Ledger: error (%v)\n", err)
		return nil
	}
	defer store.Close()

	convs := cfg.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(out, "Conversations: none monitored")
	}
	for _, conv := range convs {
		rec, err := store.Today(context.Background(), conv)
		if err != nil {
			fmt.Fprintf(out, "  %s: error (%v)\n", conv, err)
			continue
		}
		fmt.Fprintf(out, "  %s: %s\n", conv, formatRecord(rec, store.Cap()))
	}

	jobs, err := cron.ReadState(cron.StatePath(config.ConfigDir()))
	if err != nil {
		fmt.Fprintf(out, "Jobs: error (%v)\n", err)
		return nil
	}
	for _, j := range jobs {
		last := "never"
		if j.State.LastRunAtMs > 0 {
			last = time.UnixMilli(j.State.LastRunAtMs).In(cfg.Location()).Format(time.DateTime) + " " + j.State.LastStatus
		}
		fmt.Fprintf(out, "Job %s (%s): enabled=%v last=%s\n", j.Name, j.Schedule.Expr, j.Enabled, last)
	}
	return nil
}

func runGenerateWithOptions(ctx context.Context, opts CLIOptions, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.stderr())
	if err != nil {
		return err
	}
	completer, err := opts.completer(cfg)
	if err != nil {
		return err
	}
	return generateReply(ctx, opts.stdout(), gateway.NewComposer(cfg, completer), name)
}

func runSendWithOptions(ctx context.Context, opts CLIOptions, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.stderr())
	if err != nil {
		return err
	}

	conv := strings.TrimSpace(conversationFlag)
	if conv == "" {
		convs := cfg.Conversations()
		if len(convs) == 0 {
			return errors.New("no monitored conversation configured; pass --conversation")
		}
		conv = convs[0]
	}
	if _, _, err := bus.SplitConversationID(conv); err != nil {
		return err
	}
	if !slices.Contains(cfg.Conversations(), conv) {
		return fmt.Errorf("%w: %s", birthday.ErrUnmonitoredConversation, conv)
	}

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Completer: opts.Completer, Channels: opts.Channels})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	if err := gw.Connect(ctx, timeoutFlag); err != nil {
		return err
	}

	out, err := gw.Engine().SendManual(ctx, conv, name)
	if err != nil {
		return fmt.Errorf("send to %s (%s): %w", conv, out.Action, err)
	}
	fmt.Fprintf(opts.stdout(), "Sent to %s:\n%s\n", conv, out.Reply)
	return nil
}

func runGroupsWithOptions(ctx context.Context, opts CLIOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.stderr())
	if err != nil {
		return err
	}

	src := opts.Groups
	if src == nil {
		wa, err := channel.NewWhatsApp(cfg.Channels.WhatsApp, bus.NewMessageBus(config.DefaultBufSize))
		if err != nil {
			return fmt.Errorf("create whatsapp client: %w", err)
		}
		src = wa
	}

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("start whatsapp: %w", err)
	}
	defer src.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, timeoutFlag)
	defer cancel()
	if err := src.WaitConnected(waitCtx); err != nil {
		return fmt.Errorf("whatsapp not connected: %w", err)
	}

	groups, err := src.ListGroups(ctx)
	if err != nil {
		return err
	}
	out := opts.stdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, "No groups found.")
		return nil
	}
	for _, g := range groups {
		fmt.Fprintf(out, "%-40s  %s (%d members)\n", g.JID, g.Name, g.Participants)
	}
	fmt.Fprintln(out, "\nSet TARGET_GROUP_ID or channels.whatsapp.groupJid to the JID to monitor.")
	return nil
}

func runWishesWithOptions(ctx context.Context, opts CLIOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.stderr())
	if err != nil {
		return err
	}
	store, err := gateway.OpenLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	out := opts.stdout()
	convs := cfg.Conversations()
	if c := strings.TrimSpace(conversationFlag); c != "" {
		convs = []string{c}
	}
	for _, conv := range convs {
		rec, err := store.Today(ctx, conv)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s: %s\n", rec.Date, conv, formatRecord(rec, store.Cap()))
	}

	decisions, err := store.RecentDecisions(ctx, strings.TrimSpace(conversationFlag), limitFlag)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(out, "No decisions recorded.")
		return nil
	}
	fmt.Fprintln(out, "\nRecent decisions:")
	for _, d := range decisions {
		name := valueOr(d.PersonName, "-")
		fmt.Fprintf(out, "  %s  %-18s %-12s %.2f  %s\n",
			d.CreatedAt.In(cfg.Location()).Format(time.DateTime), d.Action, name, d.Confidence,
			logging.Truncate(strings.ReplaceAll(d.Text, "\n", " "), 60))
	}
	return nil
}

func formatRecord(rec ledger.DailyRecord, dailyCap int) string {
	names := "-"
	if len(rec.Names) > 0 {
		names = strings.Join(rec.Names, ", ")
	}
	return fmt.Sprintf("%d/%d wishes (%s)", rec.Count, dailyCap, names)
}

func providerDisplay(t string) string {
	if t == "" {
		return "openai (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
