package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/pkg/daemon"
	"github.com/cccc-dev/cccc/pkg/log"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the CCCC daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Run the CCCC daemon. The daemon recovers every group ledger, restarts
enabled agent sessions, and serves the local socket until interrupted.

Logs go to <home>/daemon/log as JSON; pass --console to log readable
output to stdout instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home := homeDir(cmd)
		console, _ := cmd.Flags().GetBool("console")
		tcpAddr, _ := cmd.Flags().GetString("tcp")

		global, err := daemon.LoadGlobalConfig(home)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Join(home, "daemon"), 0o755); err != nil {
			return fmt.Errorf("failed to create daemon home: %v", err)
		}
		if console {
			log.Init(log.Config{Level: log.LevelFromConfig(global.LogLevel)})
		} else {
			logPath := filepath.Join(home, "daemon", "log")
			f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %v", err)
			}
			defer f.Close()
			log.Init(log.Config{
				Level:      log.LevelFromConfig(global.LogLevel),
				JSONOutput: true,
				Output:     f,
			})
		}

		fmt.Println("Starting CCCC daemon...")
		fmt.Printf("  Home: %s\n", home)
		fmt.Printf("  Socket: %s\n", filepath.Join(home, "daemon", "socket"))
		if tcpAddr != "" {
			fmt.Printf("  TCP: %s\n", tcpAddr)
		}
		fmt.Println()

		d, err := daemon.New(daemon.Config{
			Home:    home,
			TCPAddr: tcpAddr,
			Global:  global,
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %v", err)
		}
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %v", err)
		}
		fmt.Println("✓ Daemon started")
		fmt.Println()
		fmt.Println("Daemon is running. Press Ctrl+C to stop.")

		// The daemon also stops itself on a daemon.shutdown request, so
		// wait on both the signal and its own completion.
		done := make(chan struct{})
		go func() {
			d.Wait()
			close(done)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			d.Shutdown(ctx)
		case <-done:
			fmt.Println("\nShutdown requested over IPC")
		}
		<-done

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.ShutdownDaemon(); err != nil {
			return fmt.Errorf("failed to stop daemon: %v", err)
		}
		fmt.Println("✓ Shutdown requested")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.Ping()
		if err != nil {
			return fmt.Errorf("failed to ping daemon: %v", err)
		}
		fmt.Printf("Daemon running (pid %d)\n", info.PID)
		fmt.Printf("  Time: %s\n", info.Time)
		fmt.Printf("  Groups: %d\n", info.Groups)
		return nil
	},
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStopCmd)

	daemonRunCmd.Flags().Bool("console", false, "Log readable output to stdout instead of the log file")
	daemonRunCmd.Flags().String("tcp", "", "Optional loopback TCP listener (requires auth_token in config.json)")
}
