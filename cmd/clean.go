package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var cleanYes bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the output directory and everything rendered into it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClean(cmd.InOrStdin(), cmd.OutOrStdout(), Cfg.Output, cleanYes)
	},
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(in io.Reader, out io.Writer, dir string, yes bool) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Fprintf(out, "Nothing to clean: %s does not exist.\n", dir)
		return nil
	}

	if !yes && !confirm(bufio.NewReader(in), out, fmt.Sprintf("⚠️  Are you sure you want to delete %s?", dir)) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	fmt.Fprintf(out, "🗑️  Clearing %s...\n", dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	fmt.Fprintln(out, "✨ Clean Complete.")
	return nil
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
