// Package main implements session inspection commands.
// This file renders the audit ledger stored in sqlite.
package main

import (
	"fmt"
	"strings"

	"cadence/internal/ledger"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	sessionsType   string
	sessionsStatus string
	sessionsLimit  int

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	ruleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	statusStyles = map[ledger.RecordStatus]lipgloss.Style{
		ledger.StatusTriggered: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		ledger.StatusActive:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		ledger.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		ledger.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		ledger.StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		ledger.StatusExpired:   lipgloss.NewStyle().Foreground(lipgloss.Color("130")),
	}
)

// sessionsCmd lists audited sessions from the ledger database.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List audited sessions from the ledger",
	Long: `Reads the ledger database and prints session records, most recent
first. Requires ledger.database_path to be configured (or CADENCE_LEDGER_DB).`,
	RunE: runSessionsList,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsType, "type", "", "filter by session type (cycle, conversation, task)")
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status (triggered, active, completed, failed, cancelled, expired)")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "maximum records to print")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	if cfg.Ledger.DatabasePath == "" {
		return fmt.Errorf("no ledger database configured; set ledger.database_path or CADENCE_LEDGER_DB")
	}

	store, err := ledger.OpenStore(cfg.Ledger.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Load()
	if err != nil {
		return err
	}

	shown := 0
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-14s %-40s %-10s %s", "TYPE", "SESSION", "STATUS", "TRIGGER")))
	fmt.Println(ruleStyle.Render(strings.Repeat("─", 90)))
	for _, rec := range records {
		if sessionsType != "" && string(rec.SessionType) != sessionsType {
			continue
		}
		if sessionsStatus != "" && string(rec.Status) != sessionsStatus {
			continue
		}
		if shown >= sessionsLimit {
			break
		}
		shown++

		status := string(rec.Status)
		if style, ok := statusStyles[rec.Status]; ok {
			status = style.Render(status)
		}
		trigger := rec.TriggerContent
		if len(trigger) > 40 {
			trigger = trigger[:37] + "..."
		}
		fmt.Printf("%-14s %-40s %-10s %s\n", rec.SessionType, rec.SessionID, status, trigger)
		if rec.Summary != "" {
			fmt.Println(ruleStyle.Render("               " + rec.Summary))
		}
	}
	fmt.Println(ruleStyle.Render(strings.Repeat("─", 90)))
	fmt.Printf("Total: %d records\n", shown)
	return nil
}
