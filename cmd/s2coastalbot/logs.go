package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"S2CoastalBot/internal/config"
	"S2CoastalBot/internal/runlog"
)

var (
	logFile   string
	logFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Summarise past runs from the log file",
	Long:  "Read the bot's log file and print, for each run, its start time, final level and final message.",
	RunE:  runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logFile, "file", "f", "", "Log file (default logging.file from the config)")
	logsCmd.Flags().BoolVar(&logFollow, "follow", false, "Keep printing lines as they are appended")
}

func runLogs(cmd *cobra.Command, _ []string) error {
	path := logFile
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.Logging.File
	}
	if path == "" {
		return fmt.Errorf("no log file configured (use --file)")
	}

	out := cmd.OutOrStdout()
	if logFollow {
		return runlog.Follow(cmd.Context(), path, runlog.FollowOptions{}, func(e runlog.Entry) {
			_, _ = fmt.Fprintf(out, "%s %-5s %s %s\n", e.Time.Format(time.RFC3339), e.Level, e.RunID, e.Message)
		})
	}

	runs, err := runlog.ReadFile(cmd.Context(), path)
	if err != nil {
		return err
	}
	return printRuns(out, runs)
}

func printRuns(w io.Writer, runs []runlog.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tRUN\tPID\tLEVEL\tMESSAGE")
	for _, run := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.Started.Format(time.RFC3339), run.RunID, run.PID, run.Level, run.Message)
	}
	return tw.Flush()
}
