package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/workflow"
)

// Runs the payout ledger reconciliation checks and prints findings as JSON.
// Exits non-zero when inconsistencies are found, so it can run as a
// scheduled job that pages on failure.
func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	logger := config.GetLogger()

	report, err := workflow.RunLedgerAudit(context.Background(), db, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger audit failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if len(report.Findings) > 0 {
		fmt.Fprintf(os.Stderr, "%d ledger inconsistencies found\n", len(report.Findings))
		os.Exit(2)
	}
}
