package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var blueprintCmd = &cobra.Command{
	Use:   "blueprint",
	Short: "Export and import reusable group configurations",
}

var blueprintExportCmd = &cobra.Command{
	Use:   "export GROUP_ID",
	Short: "Export a group's configuration as YAML",
	Long: `Export a group's reusable configuration: title, topic, settings,
actors, and automation rules. History, private env, and IM bindings
stay out of the document.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		doc, err := c.ExportBlueprint(args[0])
		if err != nil {
			return fmt.Errorf("failed to export blueprint: %v", err)
		}
		if output == "" {
			fmt.Print(string(doc))
			return nil
		}
		if err := os.WriteFile(output, doc, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %v", err)
		}
		fmt.Printf("✓ Blueprint exported: %s\n", output)
		return nil
	},
}

var blueprintImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Apply a blueprint, creating or filling a group",
	Long: `Apply an exported blueprint. Without --group a new group is created;
with --group the named group must not have actors or rules yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		groupID, _ := cmd.Flags().GetString("group")

		doc, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		detail, err := c.ImportBlueprint(groupID, doc)
		if err != nil {
			return fmt.Errorf("failed to import blueprint: %v", err)
		}
		fmt.Printf("✓ Blueprint imported: %s (%d actors)\n", detail.Group.ID, len(detail.Actors))
		return nil
	},
}

func init() {
	blueprintCmd.AddCommand(blueprintExportCmd)
	blueprintCmd.AddCommand(blueprintImportCmd)

	blueprintExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	blueprintImportCmd.Flags().StringP("file", "f", "", "Blueprint YAML file (required)")
	blueprintImportCmd.Flags().String("group", "", "Apply into this empty group instead of creating one")
	_ = blueprintImportCmd.MarkFlagRequired("file")
}
