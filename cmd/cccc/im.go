package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var imCmd = &cobra.Command{
	Use:   "im",
	Short: "Manage a group's messaging bridge binding",
}

var imGetCmd = &cobra.Command{
	Use:   "get GROUP_ID",
	Short: "Show the bridge binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		binding, err := c.GetIMBinding(args[0])
		if err != nil {
			return fmt.Errorf("failed to get binding: %v", err)
		}
		if binding == nil {
			fmt.Println("Not bound")
			return nil
		}
		fmt.Printf("Platform: %s\n", binding.Platform)
		fmt.Printf("Channel: %s\n", binding.ChannelID)
		fmt.Printf("Bound: %s\n", binding.BoundAt.Format(time.RFC3339))
		return nil
	},
}

var imSetCmd = &cobra.Command{
	Use:   "set GROUP_ID PLATFORM CHANNEL_ID",
	Short: "Bind the group to a bridge channel",
	Long: `Bind a group to a messaging bridge channel. Bridges authorize with a
one-time bind key (see "cccc im bind-key"); the local CLI may bind
directly without one.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		binding, err := c.SetIMBinding(args[0], args[1], args[2], key)
		if err != nil {
			return fmt.Errorf("failed to bind: %v", err)
		}
		fmt.Printf("✓ Bound to %s/%s\n", binding.Platform, binding.ChannelID)
		return nil
	},
}

var imUnsetCmd = &cobra.Command{
	Use:   "unset GROUP_ID",
	Short: "Remove the bridge binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.UnsetIMBinding(args[0]); err != nil {
			return fmt.Errorf("failed to unbind: %v", err)
		}
		fmt.Printf("✓ Unbound: %s\n", args[0])
		return nil
	},
}

var imBindKeyCmd = &cobra.Command{
	Use:   "bind-key GROUP_ID",
	Short: "Mint a one-time key a bridge can bind with",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		bk, err := c.IssueBindKey(args[0])
		if err != nil {
			return fmt.Errorf("failed to issue bind key: %v", err)
		}
		fmt.Printf("Bind key: %s\n", bk.Key)
		fmt.Printf("Expires: %s\n", bk.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	imCmd.AddCommand(imGetCmd)
	imCmd.AddCommand(imSetCmd)
	imCmd.AddCommand(imUnsetCmd)
	imCmd.AddCommand(imBindKeyCmd)

	imSetCmd.Flags().String("key", "", "One-time bind key issued by bind-key")
}
