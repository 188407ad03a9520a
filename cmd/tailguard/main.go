// Package main provides the tailguard CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
	"github.com/good-yellow-bee/tailguard/internal/hostinfo"
	"github.com/good-yellow-bee/tailguard/internal/metrics"
	"github.com/good-yellow-bee/tailguard/internal/monitor"
	"github.com/good-yellow-bee/tailguard/internal/notifier"
	"github.com/good-yellow-bee/tailguard/internal/storage"
	"github.com/good-yellow-bee/tailguard/internal/tailer"
	"github.com/good-yellow-bee/tailguard/pkg/config"
)

var (
	configFile   string
	filePath     string
	verbose      bool
	notifierName string
	askPassword  bool
)

var rootCmd = &cobra.Command{
	Use:   "tailguard",
	Short: "tailguard - follow a log file and alert on matching lines",
	Long: `tailguard follows a single log file across truncation, rotation,
deletion and recreation, and sends a notification for every line that
matches an alert rule. By default it reports successful SSH password
logins by e-mail.`,
	SilenceUsage: true,
	RunE:         runTail,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.VersionString())
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and alert rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rules, err := loadRules(cfg)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), cfg, rules)
		return nil
	},
}

var testNotifyCmd = &cobra.Command{
	Use:   "test-notify",
	Short: "Send a test alert through the configured notifiers",
	RunE:  runTestNotify,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/tailguard/tailguard.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&filePath, "file", "f", "", "log file to follow (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	testNotifyCmd.Flags().StringVarP(&notifierName, "notifier", "n", "", "only send through this notifier (email, slack, teams)")
	testNotifyCmd.Flags().BoolVar(&askPassword, "ask-password", false, "prompt for the SMTP password")

	rootCmd.AddCommand(versionCmd, checkConfigCmd, testNotifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(configFile, filePath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Verbose = verbose
	return cfg, nil
}

func loadRules(cfg *Config) ([]*alerting.Rule, error) {
	if cfg.RulesFile == "" {
		return alerting.DefaultRules(), nil
	}
	rules, err := alerting.LoadRulesFromFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("load rules: %s defines no rules", cfg.RulesFile)
	}
	return rules, nil
}

// buildDispatcher registers a notifier for every configured channel.
func buildDispatcher(cfg *Config) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcherWithRateLimit(cfg.RateLimitConfig())

	if cfg.EmailEnabled() {
		email, err := notifier.NewEmailNotifier(cfg.EmailConfig())
		if err != nil {
			return nil, err
		}
		d.Register(email)
	}
	if cfg.Slack.WebhookURL != "" {
		slack, err := notifier.NewSlackNotifier(notifier.SlackConfig{WebhookURL: cfg.Slack.WebhookURL})
		if err != nil {
			return nil, err
		}
		d.Register(slack)
	}
	if cfg.Teams.WebhookURL != "" {
		teams, err := notifier.NewTeamsNotifier(notifier.TeamsConfig{WebhookURL: cfg.Teams.WebhookURL})
		if err != nil {
			return nil, err
		}
		d.Register(teams)
	}

	return d, nil
}

func openHistory(cfg *Config) (*storage.SQLiteStorage, error) {
	if cfg.History.Path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.History.Path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return store, nil
}

// status is the document served at /api/v1/status.
type status struct {
	Build     config.BuildInfo             `json:"build"`
	File      string                       `json:"file"`
	Host      hostinfo.Info                `json:"host"`
	Tailing   bool                         `json:"tailing"`
	Monitor   monitor.Stats                `json:"monitor"`
	Engine    alerting.EngineStatsSnapshot `json:"engine"`
	RateLimit notifier.RateLimitStats      `json:"rate_limit"`
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	build := config.GetBuildInfo()
	metrics.SetBuildInfo(build.Version, build.Commit, build.BuildTime)

	rules, err := loadRules(cfg)
	if err != nil {
		return err
	}

	host := hostinfo.Collect()
	engine := alerting.NewEngine(rules, &alerting.EngineOptions{Host: host})

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("create notifiers: %w", err)
	}
	defer dispatcher.Close()

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	var history storage.AlertHistoryRepository
	if store != nil {
		defer store.Close()
		history = store.AlertHistory()
		log.Printf("alert history at %s", cfg.History.Path)
	}

	mon := monitor.New(monitor.Config{
		Path:    cfg.File,
		Echo:    cfg.Echo,
		Verbose: cfg.Verbose,
	}, engine, dispatcher, history)

	t, err := tailer.NewTailer(cfg.File, mon, &tailer.Options{
		Backend:          cfg.Watch.Backend,
		Encoding:         cfg.Watch.Encoding,
		StartAtBeginning: cfg.Watch.StartAtBeginning,
		Verbose:          cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("create tailer: %w", err)
	}
	defer t.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var tailing atomic.Bool

	g.Go(func() error {
		return mon.Run(ctx)
	})
	g.Go(func() error {
		go func() {
			select {
			case <-t.Ready():
				tailing.Store(true)
			case <-ctx.Done():
			}
		}()
		defer tailing.Store(false)

		if err := t.Run(ctx); err != nil {
			return fmt.Errorf("tail %s: %w", cfg.File, err)
		}
		return nil
	})

	if cfg.Status.Address != "" {
		checkers := []metrics.Checker{
			metrics.CheckFunc{CheckName: "tailer", Fn: func(context.Context) error {
				if !tailing.Load() {
					return errors.New("tailer not running")
				}
				return nil
			}},
		}
		if store != nil {
			checkers = append(checkers, metrics.NewSQLiteChecker(store.DB()))
		}

		srv := metrics.NewServer(cfg.Status.Address, metrics.ServerOptions{
			History:  history,
			Checkers: checkers,
			Verbose:  cfg.Verbose,
			Status: func() any {
				return status{
					Build:     build,
					File:      cfg.File,
					Host:      host,
					Tailing:   tailing.Load(),
					Monitor:   mon.Stats(),
					Engine:    engine.Stats(),
					RateLimit: dispatcher.RateLimitStats(),
				}
			},
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if history != nil {
		g.Go(func() error {
			return pruneHistory(ctx, history, cfg.History.Retention, time.Hour)
		})
	}

	if cfg.RulesFile != "" {
		g.Go(func() error {
			return reloadOnHangup(ctx, engine, cfg.RulesFile)
		})
	}

	log.Printf("starting tailguard %s", build.Version)
	log.Printf("following %s with %d rules on %s (%s)", cfg.File, len(rules), host.Hostname, cfg.Watch.Backend)
	log.Printf("notifiers: %s", strings.Join(dispatcher.Names(), ", "))

	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("tailguard stopped")
	return nil
}

// pruneHistory deletes journal entries older than retention, once at start
// and then every interval.
func pruneHistory(ctx context.Context, repo storage.AlertHistoryRepository, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := repo.DeleteBefore(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			log.Printf("[history] prune failed: %v", err)
		} else if n > 0 {
			log.Printf("[history] pruned %d alerts older than %s", n, retention)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// reloadOnHangup reloads the rules file on SIGHUP. A bad file keeps the
// current rules.
func reloadOnHangup(ctx context.Context, engine *alerting.Engine, path string) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			rules, err := alerting.LoadRulesFromFile(path)
			if err != nil {
				log.Printf("rule reload failed, keeping current rules: %v", err)
				continue
			}
			if err := engine.ReloadRules(rules); err != nil {
				log.Printf("rule reload failed, keeping current rules: %v", err)
				continue
			}
			log.Printf("reloaded %d rules from %s", len(rules), path)
		}
	}
}

func runTestNotify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if askPassword {
		fmt.Fprint(os.Stderr, "SMTP password: ")
		password, err := promptPassword()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		cfg.Sender.Password = password
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("create notifiers: %w", err)
	}
	defer dispatcher.Close()

	alert := testAlert(cfg.File, hostinfo.Collect())
	if notifierName != "" {
		alert.Notify = []string{notifierName}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	if err := dispatcher.Dispatch(ctx, alert); err != nil {
		return fmt.Errorf("send test alert: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "test alert sent via %s\n", strings.Join(targetNames(dispatcher, alert), ", "))
	return nil
}

func testAlert(file string, host hostinfo.Info) *alerting.Alert {
	return &alerting.Alert{
		ID:          uuid.NewString(),
		RuleName:    "test-notify",
		Description: "The following test line was generated",
		Subject:     "Automated message: tailguard test",
		Severity:    alerting.SeverityLow,
		Message:     "Test notification",
		Line:        fmt.Sprintf("tailguard test notification for %s", file),
		FilePath:    file,
		Host:        host,
		Timestamp:   time.Now(),
	}
}

func targetNames(d *notifier.Dispatcher, alert *alerting.Alert) []string {
	if len(alert.Notify) > 0 {
		return alert.Notify
	}
	return d.Names()
}

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		passwordBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(passwordBytes), nil
	}
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(password), nil
}

func printSummary(w io.Writer, cfg *Config, rules []*alerting.Rule) {
	fmt.Fprintf(w, "file:      %s\n", cfg.File)
	fmt.Fprintf(w, "backend:   %s\n", cfg.Watch.Backend)
	fmt.Fprintf(w, "encoding:  %s\n", cfg.Watch.Encoding)

	var notifiers []string
	if cfg.EmailEnabled() {
		notifiers = append(notifiers, fmt.Sprintf("email (%d recipients)", len(cfg.Recipients)))
	}
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, "slack")
	}
	if cfg.Teams.WebhookURL != "" {
		notifiers = append(notifiers, "teams")
	}
	fmt.Fprintf(w, "notifiers: %s\n", strings.Join(notifiers, ", "))

	fmt.Fprintf(w, "rules:     %d\n", len(rules))
	for _, r := range rules {
		state := ""
		if !r.IsEnabled() {
			state = " (disabled)"
		}
		fmt.Fprintf(w, "  - %s [%s, %s]%s\n", r.Name, r.Type, r.Severity, state)
	}
}
