package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tangde15/easyrag/internal/cli"
	"github.com/tangde15/easyrag/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "easyrag",
		Short: "EasyRAG CLI - Chat with your knowledge base",
		Long: `EasyRAG CLI talks to an easyragd server to answer questions over an
indexed knowledge base, with web search fallback.

Environment variables:
  EASYRAG_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.ChatCmd())
	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.SourceCmd())
	rootCmd.AddCommand(client.SessionsCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
