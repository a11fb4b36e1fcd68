package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tangde15/easyrag/internal/cli"
	"github.com/tangde15/easyrag/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "easyragd",
		Short: "EasyRAG daemon and CLI",
		Long:  "EasyRAG daemon for running the API server and ingesting documents from the command line",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.IngestCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
