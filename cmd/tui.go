package cmd

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/osteele/slurm-jobs/internal/config"
	"github.com/osteele/slurm-jobs/internal/journal"
	"github.com/osteele/slurm-jobs/internal/logging"
	"github.com/osteele/slurm-jobs/internal/poll"
	"github.com/osteele/slurm-jobs/internal/slurm"
	"github.com/osteele/slurm-jobs/internal/tui"
	"github.com/osteele/slurm-jobs/internal/watch"
)

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	squeue, err := squeueArgs(cmd, args)
	if err != nil {
		return err
	}

	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return errors.New("stdout is not a terminal")
	}

	querier := slurm.NewCommandQuerier(cfg.Squeue, cfg.QueryTimeout())
	if err := querier.Check(); err != nil {
		return err
	}

	logger, closeLog := openLogger(cfg)
	defer closeLog()
	logger.Info("start", "squeue", querier.Binary, "args", squeue, "interval", cfg.SlurmInterval())

	database, err := journal.Open()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer database.Close()

	poller := poll.New(poll.Options{
		Querier:  querier,
		Args:     squeue,
		Interval: cfg.SlurmInterval(),
		Logger:   logger.With("component", "poll"),
	})
	defer poller.Close()

	watcher := watch.New(watch.Options{
		Interval: cfg.FileInterval(),
		Logger:   logger.With("component", "watch"),
	})
	defer watcher.Close()

	model := tui.NewModel(poller, watcher, tui.ModelOptions{
		Args:        squeue,
		Interval:    poller.Interval(),
		LogMaxLines: cfg.LogMaxLines,
		Stderr:      cfg.Output == "stderr",
		Wrap:        cfg.Wrap,
		Journal:     database,
		Logger:      logger.With("component", "tui"),
	})

	poller.Start()

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		logger.Error("run TUI", "err", err)
		return fmt.Errorf("run TUI: %w", err)
	}
	logger.Info("exit")
	return nil
}

// loadConfig reads the config file and applies the flags the user set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := config.ConfigPath()
	if configFile != "" {
		path = configFile
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("slurm-refresh") {
		cfg.SlurmRefresh = slurmRefresh
	}
	if flags.Changed("file-refresh") {
		cfg.FileRefresh = fileRefresh
	}
	if flags.Changed("squeue") {
		cfg.Squeue = squeueBinary
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openLogger opens the program log. The terminal belongs to the TUI, so a
// log file that cannot be opened means no logging rather than an error.
func openLogger(cfg *config.Config) (logging.Logger, func()) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; using info\n", err)
		level = logging.InfoLevel
	}
	if level == logging.DisabledLevel {
		return logging.Discard(), func() {}
	}

	path := cfg.LogFile
	if path == "" {
		path = logging.DefaultPath()
	}
	f, err := logging.OpenFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return logging.Discard(), func() {}
	}

	return logging.New(logging.Config{Level: level, Output: f}), func() { _ = f.Close() }
}
