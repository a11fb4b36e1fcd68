package client

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func UploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document to the knowledge base",
		Long:  "Upload a .txt or .md file; the server chunks, embeds and indexes it",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}

	cmd.Flags().String("api-url", "", "API base URL")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
	default:
		return fmt.Errorf("only .txt and .md files are supported")
	}

	apiClient, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := apiClient.UploadMultipart("/api/knowledge/upload", "file", path)
	if err != nil {
		return err
	}

	var result struct {
		Success     bool   `json:"success"`
		Message     string `json:"message"`
		ChunksCount int    `json:"chunks_count"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success {
		fmt.Printf("nothing indexed: %s\n", result.Message)
		return nil
	}
	fmt.Printf("indexed %d chunks from %s\n", result.ChunksCount, filepath.Base(path))
	return nil
}

func SourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage knowledge sources",
	}

	cmd.AddCommand(SourceDeleteCmd())

	return cmd
}

func SourceDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete every chunk ingested from a source",
		Args:  cobra.ExactArgs(1),
		RunE:  runSourceDelete,
	}

	cmd.Flags().String("api-url", "", "API base URL")

	return cmd
}

func runSourceDelete(cmd *cobra.Command, args []string) error {
	source := args[0]

	apiClient, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := apiClient.Delete("/api/knowledge/source", map[string]string{"source": source})
	if err != nil {
		return err
	}

	var result struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("deleted %d chunks from %s\n", result.Deleted, source)
	return nil
}
