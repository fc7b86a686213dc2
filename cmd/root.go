package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "slurm-jobs [flags] [-- squeue args...]",
	Short: "Watch Slurm jobs and tail their logs",
	Long: `Slurm Jobs is a read-only terminal dashboard for a Slurm cluster.

It runs squeue every few seconds, lists the jobs it reports, and follows
the stdout or stderr log of the selected job as it grows.

squeue filter and sort flags are passed through unchanged, as is
everything after --:

  slurm-jobs --me
  slurm-jobs -p gpu --states=RUNNING,PENDING
  slurm-jobs -- --account=lab --sort=-t`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE:         runDashboard,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// Program flags
var (
	configFile   string
	slurmRefresh float64
	fileRefresh  float64
	squeueBinary string
	logFile      string
	logLevel     string
)

// squeueFlag is a squeue option accepted on our command line and handed to
// squeue as --name=value
type squeueFlag struct {
	name      string
	shorthand string
	usage     string
	boolean   bool
}

var squeueFlags = []squeueFlag{
	{name: "user", shorthand: "u", usage: "show jobs of these users (comma separated)"},
	{name: "me", usage: "show only your jobs", boolean: true},
	{name: "partition", shorthand: "p", usage: "show jobs in these partitions"},
	{name: "jobs", shorthand: "j", usage: "show only these job ids"},
	{name: "name", shorthand: "n", usage: "show jobs with these names"},
	{name: "states", shorthand: "t", usage: "show jobs in these states"},
	{name: "account", shorthand: "A", usage: "show jobs of these accounts"},
	{name: "qos", shorthand: "q", usage: "show jobs with these QOS"},
	{name: "reservation", shorthand: "R", usage: "show jobs in this reservation"},
	{name: "nodelist", shorthand: "w", usage: "show jobs running on these nodes"},
	{name: "sort", shorthand: "S", usage: "squeue sort order, e.g. -t,e"},
	{name: "clusters", shorthand: "M", usage: "clusters to query"},
	{name: "licenses", shorthand: "L", usage: "show jobs requesting these licenses"},
}

func init() {
	addSqueueFlags(rootCmd)
	addProgramFlags(rootCmd)
}

func addProgramFlags(cmd *cobra.Command) {
	pflags := cmd.PersistentFlags()
	pflags.Float64Var(&slurmRefresh, "slurm-refresh", 0, "seconds between squeue runs (default 2)")
	pflags.Float64Var(&fileRefresh, "file-refresh", 0, "seconds between log re-reads without file notifications (default 2)")
	pflags.StringVar(&squeueBinary, "squeue", "", "squeue binary to run")
	pflags.StringVar(&logFile, "log-file", "", "write the program log to this file")
	pflags.StringVar(&logLevel, "log-level", "", "program log level: debug, info, warn, error, disabled")
	pflags.StringVar(&configFile, "config", "", "config file (default ~/.config/slurm-jobs/config.yaml)")
}

func addSqueueFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.SortFlags = false
	for _, f := range squeueFlags {
		if f.boolean {
			flags.BoolP(f.name, f.shorthand, false, f.usage)
		} else {
			flags.StringP(f.name, f.shorthand, "", f.usage)
		}
	}
}

// squeueArgs rebuilds squeue's command line from the flags the user set and
// the arguments after --
func squeueArgs(cmd *cobra.Command, args []string) ([]string, error) {
	dash := cmd.ArgsLenAtDash()
	if (dash < 0 && len(args) > 0) || dash > 0 {
		return nil, fmt.Errorf("unexpected argument %q (put squeue arguments after --)", args[0])
	}

	var out []string
	flags := cmd.Flags()
	for _, f := range squeueFlags {
		if !flags.Changed(f.name) {
			continue
		}
		if f.boolean {
			on, err := flags.GetBool(f.name)
			if err != nil {
				return nil, err
			}
			if on {
				out = append(out, "--"+f.name)
			}
			continue
		}
		value, err := flags.GetString(f.name)
		if err != nil {
			return nil, err
		}
		out = append(out, "--"+f.name+"="+strings.TrimSpace(value))
	}
	if dash == 0 {
		out = append(out, args...)
	}
	return out, nil
}
