package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var manifestsCmd = &cobra.Command{
	Use:   "manifests",
	Short: "Inspect and maintain stored region manifests",
}

var manifestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored region manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.close()

		all, err := c.manifests.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REGION\tLOCATION\tANIMALS\tCREATED")
		for _, m := range all {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.RegionKey, m.Location, len(m.AnimalManifest), m.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var manifestsShowCmd = &cobra.Command{
	Use:   "show <region-key>",
	Short: "Print one manifest as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.close()

		m, err := c.manifests.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

var manifestsRegenerateCmd = &cobra.Command{
	Use:   "regenerate <region-key>",
	Short: "Replace a manifest with a freshly generated one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.close()

		m, err := c.manifests.Regenerate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("regenerated %s (%s): %d animals\n", m.RegionKey, m.Location, len(m.AnimalManifest))
		return nil
	},
}

var manifestsDeleteCmd = &cobra.Command{
	Use:   "delete <region-key>",
	Short: "Delete one manifest; the next request for the region regenerates it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.close()

		if err := c.manifests.DeleteOne(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var manifestsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer c.close()

		n, err := c.manifests.DeleteAll(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d manifests\n", n)
		return nil
	},
}

func init() {
	manifestsCmd.AddCommand(manifestsListCmd, manifestsShowCmd, manifestsRegenerateCmd, manifestsDeleteCmd, manifestsClearCmd)
	rootCmd.AddCommand(manifestsCmd)
}
