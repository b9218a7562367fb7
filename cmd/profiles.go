package cmd

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/andresmejia3/rendition/internal/profile"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the output profiles in the active catalog",
	Run: func(cmd *cobra.Command, args []string) {
		listProfiles(cmd.OutOrStdout(), Cfg.Catalog(), Cfg.Archive.Profiles)
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func listProfiles(out io.Writer, catalog []profile.Profile, archived []string) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tWIDTH\tHEIGHT\tMAX KB\tZIP")
	fmt.Fprintln(w, "----\t-----\t------\t------\t---")

	for _, p := range catalog {
		zip := ""
		if slices.Contains(archived, p.Name) {
			zip = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", p.Name, p.Width, p.Height, p.MaxKB, zip)
	}
	w.Flush()
}
