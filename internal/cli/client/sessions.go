package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func SessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage conversation sessions",
	}

	cmd.AddCommand(SessionsListCmd())
	cmd.AddCommand(SessionsHistoryCmd())
	cmd.AddCommand(SessionsDeleteCmd())

	return cmd
}

type sessionTurn struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
	AIMessage   string `json:"ai_message"`
	CreatedAt   string `json:"created_at"`
}

func SessionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions with turn counts",
		RunE:  runSessionsList,
	}

	cmd.Flags().String("api-url", "", "API base URL")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	outputFormat, _ := cmd.Flags().GetString("output")

	apiClient, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := apiClient.Get("/api/conversations/all")
	if err != nil {
		return err
	}

	var sessions map[string][]sessionTurn
	if err := json.Unmarshal(resp.Data, &sessions); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		out, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for sessionID, turns := range sessions {
		preview := ""
		if len(turns) > 0 {
			preview = turns[0].UserMessage
			if len([]rune(preview)) > 40 {
				preview = string([]rune(preview)[:40]) + "…"
			}
		}
		fmt.Printf("%s  %d turns  %s\n", sessionID, len(turns), preview)
	}
	return nil
}

func SessionsHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the full history of one session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsHistory,
	}

	cmd.Flags().String("api-url", "", "API base URL")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runSessionsHistory(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	apiClient, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := apiClient.Post("/api/conversations/get", map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}

	var turns []sessionTurn
	if err := json.Unmarshal(resp.Data, &turns); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		out, err := json.MarshalIndent(turns, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(turns) == 0 {
		fmt.Println("no history")
		return nil
	}
	for _, t := range turns {
		fmt.Printf("[%s]\n用户: %s\n助手: %s\n\n", t.CreatedAt, t.UserMessage, t.AIMessage)
	}
	return nil
}

func SessionsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete one session's history",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsDelete,
	}

	cmd.Flags().String("api-url", "", "API base URL")

	return cmd
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	apiClient, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := apiClient.Post("/api/conversations/delete", map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}

	var result struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("deleted %d turns from session %s\n", result.Deleted, sessionID)
	return nil
}
