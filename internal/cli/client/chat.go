package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// maxWireLine bounds one NDJSON line; tool payloads can carry whole
// snippet sets.
const maxWireLine = 1 << 20

func ChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask a question",
		Long:  "Ask a question and stream the answer. Pass --session to continue an earlier conversation.",
		Args:  cobra.ExactArgs(1),
		RunE:  runChat,
	}

	cmd.Flags().StringP("session", "s", "", "Session ID to continue")
	cmd.Flags().Bool("show-tools", false, "Print retrieval tool payloads")
	cmd.Flags().String("api-url", "", "API base URL")

	return cmd
}

// wireLine is the union of every NDJSON line shape the server emits.
type wireLine struct {
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	ToolName   string         `json:"tool_name"`
	SearchSum  map[string]int `json:"search_summary"`
	References []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"references"`
}

func runChat(cmd *cobra.Command, args []string) error {
	question := args[0]
	sessionID, _ := cmd.Flags().GetString("session")
	showTools, _ := cmd.Flags().GetBool("show-tools")

	apiClient, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	body, err := apiClient.PostStream("/api/chat", map[string]string{
		"session_id": sessionID,
		"question":   question,
	})
	if err != nil {
		return err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxWireLine)

	answered := false
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line wireLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}

		switch line.Type {
		case "session":
			fmt.Fprintf(os.Stderr, "session: %s\n", line.Content)
		case "tool_start":
			fmt.Fprintf(os.Stderr, "[%s...]\n", line.ToolName)
		case "tool":
			if showTools {
				fmt.Fprintln(os.Stderr, line.Content)
			}
		case "ai":
			fmt.Print(line.Content)
			answered = true
		case "ai_final":
			if answered {
				fmt.Println()
			}
			if len(line.References) > 0 {
				fmt.Println("\n参考来源:")
				for i, ref := range line.References {
					fmt.Printf("  %d. %s\n     %s\n", i+1, ref.Title, ref.URL)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}
