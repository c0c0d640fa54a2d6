package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cadence/internal/config"
	"cadence/internal/coordinator"
	"cadence/internal/logging"
	"cadence/internal/session"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// runCmd processes a single utterance and exits.
var runCmd = &cobra.Command{
	Use:   "run [utterance]",
	Short: "Route a single utterance through one cycle",
	Long: `Starts a cycle, classifies and routes the utterance, executes the
resulting decision, and finalizes the cycle. Useful for scripting and for
inspecting routing behavior.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		utterance := strings.Join(args, " ")

		coord, store, err := buildCoordinator()
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := coord.StartCycleSession(session.TriggerText, utterance); err != nil {
			return err
		}
		decision, err := coord.HandleUserInput(cmd.Context(), utterance)
		if err != nil {
			return err
		}
		for _, note := range decision.Notes {
			fmt.Println(noteStyle.Render("· " + note))
		}
		bundle, err := coord.EndCycleSession("")
		if err != nil {
			return err
		}
		if bundle.LastOutput != "" {
			fmt.Println(bundle.LastOutput)
		}
		return nil
	},
}

// runInteractive is the default command: a read-route-respond loop with one
// cycle per utterance and the inactivity sweep running in the background.
func runInteractive(parent context.Context) error {
	coord, store, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	coord.Start(ctx)
	defer coord.Close()

	// Pick up config edits without restarting; only sweep-independent
	// settings apply mid-run.
	watcher, err := config.NewWatcher(configPath, func(updated *config.Config) {
		cfg = updated
		logging.Boot("configuration reloaded")
	})
	if err != nil {
		logging.Boot("config watcher unavailable: %v", err)
	} else {
		if err := watcher.Start(); err != nil {
			logging.Boot("config watcher failed to start: %v", err)
		}
		defer watcher.Close()
	}

	fmt.Println(promptStyle.Render("cadence " + cfg.Version))
	fmt.Println(noteStyle.Render("type your request; 'exit' quits, 'status' shows the active session"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "exit", "quit":
			if _, err := coord.EndCycleSession("goodbye"); err != nil && err != coordinator.ErrNoActiveCycle {
				fmt.Println(errStyle.Render(err.Error()))
			}
			return nil
		case "status":
			printStatus(coord)
			continue
		}

		if coord.PrimarySessionID() == "" {
			if _, err := coord.StartCycleSession(session.TriggerText, line); err != nil {
				fmt.Println(errStyle.Render("could not start cycle: " + err.Error()))
				continue
			}
		}

		decision, err := coord.HandleUserInput(ctx, line)
		if err != nil {
			fmt.Println(errStyle.Render(err.Error()))
			continue
		}
		for _, note := range decision.Notes {
			fmt.Println(noteStyle.Render("· " + note))
		}

		select {
		case <-ctx.Done():
			_, _ = coord.EndCycleSession("interrupted")
			return nil
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("input error: %w", err)
	}
	_, _ = coord.EndCycleSession("input closed")
	return nil
}

func printStatus(coord *coordinator.Coordinator) {
	id := coord.PrimarySessionID()
	if id == "" {
		fmt.Println(noteStyle.Render("no active session"))
		return
	}
	fmt.Println("primary session: " + id)
	if history := coord.CycleHistory(); len(history) > 0 {
		fmt.Printf("finalized cycles: %d\n", len(history))
	}
	if carried := coord.CarriedBundle(); carried != nil {
		fmt.Printf("carried memory entries: %d, pending tasks: %d\n",
			len(carried.ConversationMemory), len(carried.PendingTasks))
	}
}
