package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/pkg/types"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage working groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new working group",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		topic, _ := cmd.Flags().GetString("topic")
		scopePath, _ := cmd.Flags().GetString("scope")
		scopeKey, _ := cmd.Flags().GetString("scope-key")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		var scope *types.Scope
		if scopePath != "" {
			abs, err := filepath.Abs(scopePath)
			if err != nil {
				return fmt.Errorf("failed to resolve scope path: %v", err)
			}
			scope = &types.Scope{Key: scopeKey, Path: abs}
		}

		g, err := c.CreateGroup(title, topic, scope)
		if err != nil {
			return fmt.Errorf("failed to create group: %v", err)
		}
		fmt.Printf("✓ Group created: %s\n", g.ID)
		if len(g.Scopes) > 0 {
			fmt.Printf("  Scope: %s -> %s\n", g.Scopes[0].Key, g.Scopes[0].Path)
		}
		return nil
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List working groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		groups, err := c.ListGroups()
		if err != nil {
			return fmt.Errorf("failed to list groups: %v", err)
		}
		if len(groups) == 0 {
			fmt.Println("No groups")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s\t%s\t%s\n", g.ID, g.State, g.Title)
		}
		return nil
	},
}

var groupGetCmd = &cobra.Command{
	Use:   "get GROUP_ID",
	Short: "Show one group with its actors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		detail, err := c.GetGroup(args[0])
		if err != nil {
			return fmt.Errorf("failed to get group: %v", err)
		}
		g := detail.Group
		fmt.Printf("ID: %s\n", g.ID)
		fmt.Printf("Title: %s\n", g.Title)
		if g.Topic != "" {
			fmt.Printf("Topic: %s\n", g.Topic)
		}
		fmt.Printf("State: %s\n", g.State)
		fmt.Printf("Created: %s\n", g.CreatedAt.Format(time.RFC3339))
		for _, s := range g.Scopes {
			fmt.Printf("Scope: %s -> %s\n", s.Key, s.Path)
		}
		if g.IMBinding != nil {
			fmt.Printf("IM: %s/%s\n", g.IMBinding.Platform, g.IMBinding.ChannelID)
		}
		if len(detail.Actors) > 0 {
			fmt.Println("Actors:")
			for _, a := range detail.Actors {
				fmt.Printf("  %s\t%s\t%s\n", a.ID, a.Role, a.Runner)
			}
		}
		return nil
	},
}

var groupUpdateCmd = &cobra.Command{
	Use:   "update GROUP_ID",
	Short: "Edit group title or topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var title, topic *string
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			title = &v
		}
		if cmd.Flags().Changed("topic") {
			v, _ := cmd.Flags().GetString("topic")
			topic = &v
		}
		if title == nil && topic == nil {
			return fmt.Errorf("nothing to update: pass --title or --topic")
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		g, err := c.UpdateGroup(args[0], title, topic)
		if err != nil {
			return fmt.Errorf("failed to update group: %v", err)
		}
		fmt.Printf("✓ Group updated: %s\n", g.ID)
		return nil
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete GROUP_ID",
	Short: "Delete a group and its ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("deleting %s destroys its ledger; pass --yes to confirm", args[0])
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.DeleteGroup(args[0]); err != nil {
			return fmt.Errorf("failed to delete group: %v", err)
		}
		fmt.Printf("✓ Group deleted: %s\n", args[0])
		return nil
	},
}

var groupStartCmd = &cobra.Command{
	Use:   "start GROUP_ID",
	Short: "Activate a group and start its enabled actors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		g, err := c.StartGroup(args[0])
		if err != nil {
			return fmt.Errorf("failed to start group: %v", err)
		}
		fmt.Printf("✓ Group started: %s (state=%s)\n", g.ID, g.State)
		return nil
	},
}

var groupStopCmd = &cobra.Command{
	Use:   "stop GROUP_ID",
	Short: "Stop every actor session and park the group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		g, err := c.StopGroup(args[0])
		if err != nil {
			return fmt.Errorf("failed to stop group: %v", err)
		}
		fmt.Printf("✓ Group stopped: %s\n", g.ID)
		return nil
	},
}

var groupSetStateCmd = &cobra.Command{
	Use:   "set-state GROUP_ID STATE",
	Short: "Move a group to active, idle, paused, or stopped",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state := types.GroupState(args[1])
		if !types.ValidGroupState(state) {
			return fmt.Errorf("unknown state %q (want active, idle, paused, or stopped)", args[1])
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		g, err := c.SetGroupState(args[0], state)
		if err != nil {
			return fmt.Errorf("failed to set state: %v", err)
		}
		fmt.Printf("✓ Group %s is now %s\n", g.ID, g.State)
		return nil
	},
}

// Scope commands
var groupScopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Manage a group's directory scopes",
}

var scopeAttachCmd = &cobra.Command{
	Use:   "attach GROUP_ID KEY PATH",
	Short: "Bind a directory to a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[2])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.AttachScope(args[0], args[1], abs); err != nil {
			return fmt.Errorf("failed to attach scope: %v", err)
		}
		fmt.Printf("✓ Scope attached: %s -> %s\n", args[1], abs)
		return nil
	},
}

var scopeDetachCmd = &cobra.Command{
	Use:   "detach GROUP_ID KEY",
	Short: "Unbind a scope by key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.DetachScope(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to detach scope: %v", err)
		}
		fmt.Printf("✓ Scope detached: %s\n", args[1])
		return nil
	},
}

var groupSettingsCmd = &cobra.Command{
	Use:   "settings GROUP_ID",
	Short: "Show or replace a group's settings",
	Long: `Without --file, prints the group's effective settings as JSON.
With --file, replaces the settings from a JSON document.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if file == "" {
			s, err := c.GetSettings(args[0])
			if err != nil {
				return fmt.Errorf("failed to get settings: %v", err)
			}
			out, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		var s types.Settings
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to parse settings: %v", err)
		}
		if _, err := c.UpdateSettings(args[0], s); err != nil {
			return fmt.Errorf("failed to update settings: %v", err)
		}
		fmt.Printf("✓ Settings updated: %s\n", args[0])
		return nil
	},
}

var groupSnapshotCmd = &cobra.Command{
	Use:   "snapshot GROUP_ID",
	Short: "Snapshot the projection and compact the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.SnapshotGroup(args[0])
		if err != nil {
			return fmt.Errorf("failed to snapshot: %v", err)
		}
		fmt.Printf("✓ Snapshot taken up to %s (%d bytes, sha256 %s)\n", info.UpTo, info.Bytes, info.SHA256)
		return nil
	},
}

func init() {
	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupGetCmd)
	groupCmd.AddCommand(groupUpdateCmd)
	groupCmd.AddCommand(groupDeleteCmd)
	groupCmd.AddCommand(groupStartCmd)
	groupCmd.AddCommand(groupStopCmd)
	groupCmd.AddCommand(groupSetStateCmd)
	groupCmd.AddCommand(groupScopeCmd)
	groupCmd.AddCommand(groupSettingsCmd)
	groupCmd.AddCommand(groupSnapshotCmd)

	groupScopeCmd.AddCommand(scopeAttachCmd)
	groupScopeCmd.AddCommand(scopeDetachCmd)

	groupCreateCmd.Flags().String("title", "", "Group title")
	groupCreateCmd.Flags().String("topic", "", "Group topic")
	groupCreateCmd.Flags().String("scope", "", "Directory to attach as the first scope")
	groupCreateCmd.Flags().String("scope-key", "main", "Key for the first scope")

	groupUpdateCmd.Flags().String("title", "", "New title")
	groupUpdateCmd.Flags().String("topic", "", "New topic")

	groupDeleteCmd.Flags().Bool("yes", false, "Confirm deletion")

	groupSettingsCmd.Flags().StringP("file", "f", "", "JSON file with replacement settings")
}
