package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version и Commit задаются при сборке через ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// NewVersionCmd печатает версию.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Версия",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "transcriber version %s (commit: %s)\n", Version, Commit)
		},
	}
}
