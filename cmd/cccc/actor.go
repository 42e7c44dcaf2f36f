package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/pkg/types"
)

var actorCmd = &cobra.Command{
	Use:   "actor",
	Short: "Manage agent sessions inside a group",
}

var actorAddCmd = &cobra.Command{
	Use:   "add GROUP_ID ACTOR_ID",
	Short: "Add an actor to a group",
	Long: `Add an actor to a group. The first actor becomes the foreman.

The runtime names a known launch convention (claude, codex, custom);
--command overrides the launched program. PTY actors run under a
supervised terminal; headless actors poll the daemon themselves.
--env values stay on this machine and never enter the group ledger.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runtimeName, _ := cmd.Flags().GetString("runtime")
		runnerKind, _ := cmd.Flags().GetString("runner")
		command, _ := cmd.Flags().GetStringArray("command")
		profile, _ := cmd.Flags().GetString("profile")
		env, _ := cmd.Flags().GetStringArray("env")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		actor, err := c.AddActor(args[0], args[1], runtimeName, profile, types.RunnerKind(runnerKind), command, env)
		if err != nil {
			return fmt.Errorf("failed to add actor: %v", err)
		}
		fmt.Printf("✓ Actor added: %s (role=%s, runner=%s)\n", actor.ID, actor.Role, actor.Runner)
		return nil
	},
}

var actorListCmd = &cobra.Command{
	Use:   "list GROUP_ID",
	Short: "List a group's actors with live session state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		actors, err := c.ListActors(args[0])
		if err != nil {
			return fmt.Errorf("failed to list actors: %v", err)
		}
		if len(actors) == 0 {
			fmt.Println("No actors")
			return nil
		}
		for _, a := range actors {
			line := fmt.Sprintf("%s\t%s\t%s\t%s", a.ID, a.Role, a.Runner, a.SessionState)
			if a.Runner == types.RunnerHeadless && a.Status != "" {
				line += fmt.Sprintf("\t%s", a.Status)
			}
			if !a.Enabled {
				line += "\t(disabled)"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var actorUpdateCmd = &cobra.Command{
	Use:   "update GROUP_ID ACTOR_ID",
	Short: "Edit an actor's record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, _ := cmd.Flags().GetBool("enable")
		disable, _ := cmd.Flags().GetBool("disable")
		if enable && disable {
			return fmt.Errorf("--enable and --disable are mutually exclusive")
		}
		var enabled *bool
		if enable || disable {
			v := enable
			enabled = &v
		}
		command, _ := cmd.Flags().GetStringArray("command")
		runtimeName, _ := cmd.Flags().GetString("runtime")
		profile, _ := cmd.Flags().GetString("profile")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		actor, err := c.UpdateActor(args[0], args[1], enabled, command, runtimeName, profile)
		if err != nil {
			return fmt.Errorf("failed to update actor: %v", err)
		}
		fmt.Printf("✓ Actor updated: %s\n", actor.ID)
		return nil
	},
}

var actorRemoveCmd = &cobra.Command{
	Use:   "remove GROUP_ID ACTOR_ID",
	Short: "Stop an actor's session and remove it from the group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.RemoveActor(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to remove actor: %v", err)
		}
		fmt.Printf("✓ Actor removed: %s\n", args[1])
		return nil
	},
}

var actorStartCmd = &cobra.Command{
	Use:   "start GROUP_ID ACTOR_ID",
	Short: "Start an actor's session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.StartActor(args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to start actor: %v", err)
		}
		fmt.Printf("✓ Actor started: %s (session=%s)\n", info.ID, info.SessionState)
		return nil
	},
}

var actorStopCmd = &cobra.Command{
	Use:   "stop GROUP_ID ACTOR_ID",
	Short: "Stop an actor's session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.StopActor(args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to stop actor: %v", err)
		}
		fmt.Printf("✓ Actor stopped: %s\n", info.ID)
		return nil
	},
}

var actorRestartCmd = &cobra.Command{
	Use:   "restart GROUP_ID ACTOR_ID",
	Short: "Restart an actor's session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.RestartActor(args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to restart actor: %v", err)
		}
		fmt.Printf("✓ Actor restarted: %s (session=%s)\n", info.ID, info.SessionState)
		return nil
	},
}

var actorSetStatusCmd = &cobra.Command{
	Use:   "set-status GROUP_ID ACTOR_ID STATUS",
	Short: "Set a headless actor's status (online, busy, offline)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := types.HeadlessStatus(args[2])
		switch status {
		case types.HeadlessOnline, types.HeadlessBusy, types.HeadlessOffline:
		default:
			return fmt.Errorf("unknown status %q (want online, busy, or offline)", args[2])
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.SetActorStatus(args[0], args[1], status)
		if err != nil {
			return fmt.Errorf("failed to set status: %v", err)
		}
		fmt.Printf("✓ Actor %s is %s\n", info.ID, info.Status)
		return nil
	},
}

var actorRuntimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List the runtimes the daemon can launch by name",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		rts, err := c.ListRuntimes()
		if err != nil {
			return fmt.Errorf("failed to list runtimes: %v", err)
		}
		for _, rt := range rts {
			command := strings.Join(rt.Command, " ")
			if command == "" {
				command = "(explicit --command required)"
			}
			fmt.Printf("%s\t%s\n", rt.Name, command)
		}
		return nil
	},
}

var terminalCmd = &cobra.Command{
	Use:   "terminal GROUP_ID ACTOR_ID",
	Short: "Show the tail of a PTY actor's transcript",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		keepANSI, _ := cmd.Flags().GetBool("ansi")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		out, err := c.TailTerminal(args[0], args[1], lines, keepANSI)
		if err != nil {
			return fmt.Errorf("failed to tail terminal: %v", err)
		}
		for _, l := range out {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	actorCmd.AddCommand(actorAddCmd)
	actorCmd.AddCommand(actorListCmd)
	actorCmd.AddCommand(actorUpdateCmd)
	actorCmd.AddCommand(actorRemoveCmd)
	actorCmd.AddCommand(actorStartCmd)
	actorCmd.AddCommand(actorStopCmd)
	actorCmd.AddCommand(actorRestartCmd)
	actorCmd.AddCommand(actorSetStatusCmd)
	actorCmd.AddCommand(actorRuntimesCmd)

	actorAddCmd.Flags().String("runtime", "", "Runtime name (claude, codex, custom)")
	actorAddCmd.Flags().String("runner", "", "Session owner: pty or headless (default pty)")
	actorAddCmd.Flags().StringArray("command", nil, "Program and arguments to launch (repeatable)")
	actorAddCmd.Flags().String("profile", "", "Actor profile from the registry")
	actorAddCmd.Flags().StringArray("env", nil, "Private KEY=VALUE for the session (repeatable)")

	actorUpdateCmd.Flags().Bool("enable", false, "Enable the actor")
	actorUpdateCmd.Flags().Bool("disable", false, "Disable the actor")
	actorUpdateCmd.Flags().StringArray("command", nil, "Replacement command (repeatable)")
	actorUpdateCmd.Flags().String("runtime", "", "Replacement runtime name")
	actorUpdateCmd.Flags().String("profile", "", "Replacement profile name")

	terminalCmd.Flags().Int("lines", 40, "Number of trailing lines")
	terminalCmd.Flags().Bool("ansi", false, "Keep ANSI escape sequences")
}
