package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/pkg/types"
)

var automationCmd = &cobra.Command{
	Use:   "automation",
	Short: "Manage a group's automation rules",
}

var automationGetCmd = &cobra.Command{
	Use:   "get GROUP_ID",
	Short: "Show the automation ruleset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		rs, err := c.GetAutomation(args[0])
		if err != nil {
			return fmt.Errorf("failed to get automation: %v", err)
		}
		out, err := json.MarshalIndent(rs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var automationSetCmd = &cobra.Command{
	Use:   "set GROUP_ID",
	Short: "Replace the ruleset from a JSON file",
	Long: `Replace a group's automation rules from a JSON file holding an array
of rules. Updates are compare-and-set on the ruleset version; without
--version the current version is fetched first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		version, _ := cmd.Flags().GetInt("version")

		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		var rules []types.Rule
		if err := json.Unmarshal(raw, &rules); err != nil {
			return fmt.Errorf("failed to parse rules: %v", err)
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if !cmd.Flags().Changed("version") {
			current, err := c.GetAutomation(args[0])
			if err != nil {
				return fmt.Errorf("failed to get current version: %v", err)
			}
			version = current.Version
		}

		rs, err := c.UpdateAutomation(args[0], rules, version)
		if err != nil {
			return fmt.Errorf("failed to update automation: %v", err)
		}
		fmt.Printf("✓ Automation updated: %d rules (version %d)\n", len(rs.Rules), rs.Version)
		return nil
	},
}

var automationResetCmd = &cobra.Command{
	Use:   "reset GROUP_ID",
	Short: "Clear every automation rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		rs, err := c.ResetAutomation(args[0])
		if err != nil {
			return fmt.Errorf("failed to reset automation: %v", err)
		}
		fmt.Printf("✓ Automation reset (version %d)\n", rs.Version)
		return nil
	},
}

func init() {
	automationCmd.AddCommand(automationGetCmd)
	automationCmd.AddCommand(automationSetCmd)
	automationCmd.AddCommand(automationResetCmd)

	automationSetCmd.Flags().StringP("file", "f", "", "JSON file with the rule array (required)")
	automationSetCmd.Flags().Int("version", 0, "Expected current ruleset version")
	_ = automationSetCmd.MarkFlagRequired("file")
}
