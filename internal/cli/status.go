package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainflux/logwatch/internal/core/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the head block, cache lag and subscriber count of a running instance",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Status          string `json:"status"`
	HeadNumber      uint64 `json:"head_number"`
	LatestRemote    uint64 `json:"latest_remote"`
	Lag             uint64 `json:"lag"`
	DeadLetterDepth int    `json:"dead_letter_depth"`
	Subscribers     int    `json:"subscribers"`
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/health/detailed", cfg.Server.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		slog.Error("failed to reach health endpoint", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("failed to decode health report", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tHEAD\tREMOTE\tLAG\tSUBSCRIBERS\tDEAD LETTERS")
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
		report.Status, report.HeadNumber, report.LatestRemote, report.Lag, report.Subscribers, report.DeadLetterDepth)
	_ = w.Flush()
}
