package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/23skdu/hopsurprisal/internal/arrow_client"
	"github.com/23skdu/hopsurprisal/internal/logger"
	"github.com/23skdu/hopsurprisal/internal/results"
)

var (
	collectListen string
	collectOut    string

	collectCmd = &cobra.Command{
		Use:   "collect",
		Short: "Receive result tables over Arrow Flight and write them as CSV",
		Args:  cobra.NoArgs,
		RunE:  runCollect,
	}
)

func init() {
	collectCmd.Flags().StringVar(&collectListen, "listen", fmt.Sprintf("0.0.0.0:%d", arrow_client.DefaultPort), "Flight listen address")
	collectCmd.Flags().StringVar(&collectOut, "out", "collected_results", "output directory")
}

// collectedFile names the CSV for a descriptor path; the nth record of a
// path gets a numeric suffix.
func collectedFile(dir string, path []string, n int) string {
	name := filepath.Join(append([]string{dir}, path...)...)
	if n > 0 {
		return fmt.Sprintf("%s.%d.csv", name, n)
	}
	return name + ".csv"
}

func runCollect(cmd *cobra.Command, args []string) error {
	setupLogging("info", "console")

	var mu sync.Mutex
	seen := map[string]int{}
	collector := arrow_client.NewCollector()
	collector.OnRecord = func(path []string, rec arrow.Record) error {
		for _, p := range path {
			if p == "" || p == "." || p == ".." || filepath.Base(p) != p {
				return fmt.Errorf("invalid path element %q", p)
			}
		}
		key := filepath.Join(path...)
		mu.Lock()
		n := seen[key]
		seen[key]++
		mu.Unlock()

		file := collectedFile(collectOut, path, n)
		if err := results.WriteRecordFile(file, rec); err != nil {
			return err
		}
		logger.Log.Info("Stored result table", "file", file, "rows", rec.NumRows(), "columns", rec.NumCols())
		return nil
	}

	srv, addr, err := collector.Serve(collectListen)
	if err != nil {
		return err
	}
	logger.Log.Info("Collecting results", "addr", addr, "out", collectOut)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	srv.Shutdown()
	collector.Reset()
	logger.Log.Info("Collector stopped")
	return nil
}
