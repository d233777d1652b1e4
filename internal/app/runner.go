package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/ethpilot/internal/config"
	"github.com/ggonzalez94/ethpilot/internal/conversation"
	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/id"
	"github.com/ggonzalez94/ethpilot/internal/model"
	"github.com/ggonzalez94/ethpilot/internal/out"
	"github.com/ggonzalez94/ethpilot/internal/schema"
	"github.com/ggonzalez94/ethpilot/internal/transport"
	"github.com/ggonzalez94/ethpilot/internal/version"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return NewRunnerWithIO(strings.NewReader(""), stdout, stderr)
}

func NewRunnerWithIO(stdin io.Reader, stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type outputFlags struct {
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	output      outputFlags
	settings    config.Settings
	logger      *slog.Logger
	services    *services
	lastCommand string

	// Set from services unless a test injects them first.
	scanner       conversation.Scanner
	gas           conversation.GasEstimator
	providerInfos []model.ProviderInfo
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(context.Background())
	err = normalizeRunError(err)
	state.services.Close()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Ethereum wallet assistant bot: balances, risk scans, trade intents and wallet alerts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			s.lastCommand = trimRootPath(cmd.CommandPath())
			settings, err := config.Load(s.flags)
			if err != nil {
				return err
			}
			s.settings = settings
			logger, err := setupLogger(s.runner.stderr, settings.LogLevel, settings.LogFormat)
			if err != nil {
				return err
			}
			s.logger = logger
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	config.BindFlags(cmd.PersistentFlags(), &s.flags)
	cmd.PersistentFlags().BoolVar(&s.output.JSON, "json", false, "Output the JSON envelope")
	cmd.PersistentFlags().BoolVar(&s.output.Plain, "plain", false, "Output plain key=value lines")
	cmd.PersistentFlags().StringVar(&s.output.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.output.ResultsOnly, "results-only", false, "Output only the data payload")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newConsoleCommand())
	cmd.AddCommand(s.newScanCommand())
	cmd.AddCommand(s.newGasCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newCommandsCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot, wallet monitor and status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.settings.Validate(true); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, err := s.ensureServices(ctx)
			if err != nil {
				return err
			}
			tg, err := transport.NewTelegram(transport.TelegramOptions{
				Token:  s.settings.TelegramToken,
				Logger: s.logger,
			})
			if err != nil {
				return err
			}
			if err := tg.SetCommands(botMenu(s.settings.EnableCommands)); err != nil {
				s.logger.Warn("command_menu_failed", "err", err)
			}
			err = runBot(ctx, svc, tg, s.settings.AllowedChatIDs, s.settings.StatusListen, s.logger)
			s.logger.Info("bot_stopped")
			return err
		},
	}
}

func (s *runtimeState) newConsoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.settings.Validate(false); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, err := s.ensureServices(ctx)
			if err != nil {
				return err
			}
			console := transport.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())
			return runBot(ctx, svc, console, nil, s.settings.StatusListen, s.logger)
		},
	}
}

func (s *runtimeState) newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <contract>",
		Short: "Risk-scan a token contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := id.ParseAddress(args[0])
			if err != nil {
				return err
			}
			if _, err := s.ensureServices(cmd.Context()); err != nil {
				return err
			}
			profile, err := s.scanner.Scan(cmd.Context(), strings.ToLower(addr.Hex()))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), profile, out.Profile(profile), profile.Warnings)
		},
	}
}

func (s *runtimeState) newGasCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gas",
		Short: "Show gas price and swap cost estimates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := s.ensureServices(cmd.Context()); err != nil {
				return err
			}
			est, err := s.gas.Estimate(cmd.Context())
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), est, out.Gas(est), nil)
		},
	}
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List data providers and their API key variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := s.ensureServices(cmd.Context()); err != nil {
				return err
			}
			var b strings.Builder
			for i, p := range s.providerInfos {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "%s (%s): %s", p.Name, p.Type, strings.Join(p.Capabilities, ", "))
				if p.KeyEnvVarName != "" {
					fmt.Fprintf(&b, " [key: %s]", p.KeyEnvVarName)
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.providerInfos, b.String(), nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Describe the chat commands and which are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items := schema.Build(conversation.Specs(), s.settings.EnableCommands)
			var b strings.Builder
			for i, item := range items {
				if i > 0 {
					b.WriteString("\n")
				}
				b.WriteString(item.Usage + " - " + item.Summary)
				if !item.Enabled {
					b.WriteString(" (disabled)")
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, b.String(), nil)
		},
	}
}

func botMenu(enabled []string) []transport.BotCommand {
	menu := schema.Menu(schema.Build(conversation.Specs(), enabled))
	cmds := make([]transport.BotCommand, 0, len(menu))
	for _, m := range menu {
		cmds = append(cmds, transport.BotCommand{Command: m.Command, Description: m.Description})
	}
	return cmds
}

// ensureServices builds the provider stack once. Injected test doubles win.
func (s *runtimeState) ensureServices(ctx context.Context) (*services, error) {
	if s.services != nil || (s.scanner != nil && s.gas != nil) {
		return s.services, nil
	}
	svc, err := buildServices(ctx, s.settings, s.logger)
	if err != nil {
		return nil, err
	}
	s.services = svc
	s.scanner = svc.scanner
	s.gas = svc.gas
	s.providerInfos = svc.gateway.Providers()
	return svc, nil
}

func (s *runtimeState) outputOptions() out.Options {
	opts := out.Options{
		Mode:        out.ModeText,
		Select:      splitCSV(s.output.Select),
		ResultsOnly: s.output.ResultsOnly,
	}
	switch {
	case s.output.JSON:
		opts.Mode = out.ModeJSON
	case s.output.Plain:
		opts.Mode = out.ModePlain
	}
	return opts
}

func (s *runtimeState) emitSuccess(commandPath string, data any, text string, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	return out.Render(s.runner.stdout, env, text, s.outputOptions())
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	opts := s.outputOptions()
	opts.ResultsOnly = false
	opts.Select = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	_ = out.Render(s.runner.stderr, env, "", opts)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeValidation:
		return "validation_error"
	case clierr.CodeState:
		return "state_error"
	case clierr.CodeConfig:
		return "config_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeQuotaExhausted:
		return "quota_exhausted"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeNotFound:
		return "not_found"
	case clierr.CodeBlocked:
		return "command_blocked"
	default:
		return "internal_error"
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
