package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/pkg/client"
	"github.com/cccc-dev/cccc/pkg/daemon"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cccc",
	Short: "CCCC - Working-group coordination for coding agents",
	Long: `CCCC runs autonomous coding agents as working groups on a single
machine. One daemon owns the group ledgers, supervises agent sessions,
delivers messages between them, and nudges agents that sit on unread
or unanswered work.

All state lives under ~/.cccc; every client speaks to the daemon over
its local socket.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"CCCC version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("home", "", "Runtime home directory (default ~/.cccc)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(actorCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(terminalCmd)
	rootCmd.AddCommand(automationCmd)
	rootCmd.AddCommand(blueprintCmd)
	rootCmd.AddCommand(imCmd)
}

// homeDir resolves the runtime home from --home or the default.
func homeDir(cmd *cobra.Command) string {
	home, _ := cmd.Flags().GetString("home")
	if home == "" {
		return daemon.DefaultHome()
	}
	return home
}

// dialDaemon connects to the daemon socket under the runtime home.
func dialDaemon(cmd *cobra.Command) (*client.Client, error) {
	socket := filepath.Join(homeDir(cmd), "daemon", "socket")
	c, err := client.Dial(socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s (is it running?)", socket)
	}
	return c, nil
}
