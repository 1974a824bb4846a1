package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/credible/internal/model"
)

var watchLoop bool

// anomalyCmd represents the anomaly command
var anomalyCmd = &cobra.Command{
	Use:   "anomaly [entity...]",
	Short: "Score market anomalies for watched entities",
	Long: `Anomaly scores price and volume behaviour for the given entities, plus
those listed in anomaly.watch, and prints the resulting signals.

With --watch it keeps scoring every anomaly.interval until interrupted.

Example:
  credible anomaly RELIANCE TCS
  credible anomaly --watch`,
	RunE: runAnomaly,
}

func init() {
	rootCmd.AddCommand(anomalyCmd)
	anomalyCmd.Flags().BoolVar(&watchLoop, "watch", false, "keep scoring every anomaly.interval")
}

func runAnomaly(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if rt.Monitor == nil {
		return fmt.Errorf("no market source configured (set anomaly.source and anomaly.market_dir or anomaly.clickhouse)")
	}
	entities := make([]string, 0, len(args))
	for _, a := range args {
		entities = append(entities, strings.ToUpper(a))
	}
	rt.Monitor.Watch(entities...)
	entities = append(entities, rt.Config.Anomaly.Watch...)
	if len(entities) == 0 {
		return fmt.Errorf("no entities to score: pass entity ids or set anomaly.watch")
	}

	if watchLoop {
		fmt.Fprintf(os.Stderr, "Watching %d entities every %s (Ctrl-C to stop)\n", len(entities), rt.Config.Anomaly.Interval)
		err := rt.Monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	runErr := rt.Monitor.RunOnce(ctx)
	for _, id := range entities {
		signals, at := rt.Book.Snapshot(id)
		if at.IsZero() {
			fmt.Printf("%s  not scored\n", id)
			continue
		}
		fmt.Printf("%s  %d signals (as of %s)\n", id, len(signals), at.Format("2006-01-02 15:04 MST"))
		for _, s := range signals {
			fmt.Printf("  %-20s magnitude %6.2f  confidence %.2f  %s\n", s.Kind, s.Magnitude, s.Confidence, describeWindow(s.Window))
		}
	}
	return runErr
}

func describeWindow(w model.Window) string {
	if w.Start.Equal(w.End) {
		return w.Start.Format("2006-01-02")
	}
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}
