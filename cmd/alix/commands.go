package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quintal/alix/internal/config"
)

// productView mirrors the product objects the server returns.
type productView struct {
	Title        string  `json:"title"`
	Price        float64 `json:"price"`
	PriceLabel   string  `json:"price_label"`
	Rating       float64 `json:"rating"`
	ReviewsCount int     `json:"reviews_count"`
	Link         string  `json:"link"`
	Description  string  `json:"description"`
	Delivery     string  `json:"delivery"`
	Prime        bool    `json:"prime"`
	Analysis     string  `json:"analysis"`
}

// messageView mirrors the response to a posted message.
type messageView struct {
	SessionID string        `json:"session_id"`
	Reply     string        `json:"reply"`
	Products  []productView `json:"products"`
	Warning   string        `json:"warning"`
}

// sessionView mirrors the session-with-transcript object.
type sessionView struct {
	Session struct {
		ID        string
		Title     string
		CreatedAt string
		UpdatedAt string
	}
	Turns []struct {
		Role    string
		Content string
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the advisor",
	Long: `Talk to the advisor.

With a message argument the advisor answers once and exits. Without
arguments an interactive prompt opens; leave it with "quit" or Ctrl-D.
Omitting --session starts a fresh conversation.

Examples:
  alix chat "je cherche un casque pour le télétravail"
  alix chat --session 6f9a0c12 "plutôt autour de 100 euros"
  alix chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		message := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if sessionID == "" {
			detail, err := createSession(ctx, client, truncate(message, 60))
			if err != nil {
				return err
			}
			sessionID = detail.Session.ID
			printStep("New session %s", sessionID)
			if message == "" {
				// Interactive runs open with the welcome turn.
				for _, turn := range detail.Turns {
					printReply(turn.Content)
				}
			}
		}

		if message != "" {
			return sendMessage(ctx, client, sessionID, message)
		}
		return chatLoop(ctx, client, sessionID)
	},
}

func init() {
	chatCmd.Flags().String("session", "", "continue an existing session")
}

func createSession(ctx context.Context, client *apiClient, title string) (sessionView, error) {
	var body any
	if title != "" {
		body = map[string]string{"title": title}
	}
	resp, err := client.post(ctx, "/v1/sessions", body)
	if err != nil {
		return sessionView{}, err
	}

	var detail sessionView
	if err := decodeJSON(resp, &detail); err != nil {
		return sessionView{}, err
	}
	return detail, nil
}

func sendMessage(ctx context.Context, client *apiClient, sessionID, message string) error {
	resp, err := client.post(ctx, "/v1/sessions/"+sessionID+"/messages", map[string]string{"message": message})
	if err != nil {
		return err
	}

	var result messageView
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	printReply(result.Reply)
	if result.Warning != "" {
		printWarning("%s", result.Warning)
	}
	printProducts(result.Products)
	return nil
}

func chatLoop(ctx context.Context, client *apiClient, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, colorize(colorBold, "vous> "))
		if !scanner.Scan() {
			fmt.Fprintln(os.Stderr)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		// A failed exchange should not end the conversation.
		if err := sendMessage(ctx, client, sessionID, line); err != nil {
			printError("%v", err)
		}
	}
}

func printReply(text string) {
	fmt.Printf("%s %s\n", colorize(colorBold, "Alex>"), text)
}

func printProducts(products []productView) {
	for i, p := range products {
		fmt.Printf("\n%s %s\n", colorize(colorBold, fmt.Sprintf("%d.", i+1)), truncate(p.Title, 80))
		line := "   " + p.PriceLabel
		if p.Rating > 0 {
			line += fmt.Sprintf("  ★ %.1f (%d avis)", p.Rating, p.ReviewsCount)
		}
		if p.Prime {
			line += "  Prime"
		}
		fmt.Println(line)
		if p.Analysis != "" {
			fmt.Printf("   %s\n", p.Analysis)
		}
		if p.Link != "" {
			fmt.Printf("   %s\n", colorize(colorCyan, p.Link))
		}
	}
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var sessions []struct {
			ID        string
			Title     string
			UpdatedAt string
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(sans titre)"
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, s.ID[:8]),
				s.UpdatedAt,
				truncate(title, 60),
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+args[0])
		if err != nil {
			return err
		}

		var detail sessionView
		if err := decodeJSON(resp, &detail); err != nil {
			return err
		}

		title := detail.Session.Title
		if title == "" {
			title = "(sans titre)"
		}
		fmt.Printf("%s  %s\n", colorize(colorBold, detail.Session.ID), title)
		for _, turn := range detail.Turns {
			speaker := "vous"
			if turn.Role == "assistant" {
				speaker = "Alex"
			}
			fmt.Printf("\n%s %s\n", colorize(colorBold, speaker+">"), turn.Content)
		}
		return nil
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Reset a session to its welcome message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/sessions/"+args[0]+"/reset", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Session %s reset", args[0])
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and everything it stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/sessions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Session %s deleted", args[0])
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or edit a session's shopper profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/sessions/"+args[0]+"/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <session-id> <key> <value>",
	Short: "Set a profile field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, key, value := args[0], args[1], args[2]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{key: value}
		resp, err := client.patch(cmd.Context(), "/v1/sessions/"+sessionID+"/profile", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit <session-id>",
	Short: "Open the profile JSON in $EDITOR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		profilePath := "/v1/sessions/" + args[0] + "/profile"

		resp, err := client.get(ctx, profilePath)
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "alix-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(data); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}

		var fields map[string]any
		if err := json.Unmarshal(edited, &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		patchResp, err := client.patch(ctx, profilePath, fields)
		if err != nil {
			return err
		}
		defer patchResp.Body.Close()

		if patchResp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", patchResp.StatusCode)
		}

		printSuccess("Profile updated")
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileEditCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the marketplace directly",
	Long: `Search the marketplace directly, without going through a conversation.

Examples:
  alix search casque audio --min 50 --max 150
  alix search "aspirateur robot" --limit 6`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		minPrice, _ := cmd.Flags().GetFloat64("min")
		maxPrice, _ := cmd.Flags().GetFloat64("max")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/search?q=%s&min=%s&max=%s&n=%d",
			url.QueryEscape(query),
			strconv.FormatFloat(minPrice, 'f', -1, 64),
			strconv.FormatFloat(maxPrice, 'f', -1, 64),
			limit,
		)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Query    string        `json:"query"`
			CacheHit bool          `json:"cache_hit"`
			Products []productView `json:"products"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Products) == 0 {
			fmt.Println("No products found.")
			return nil
		}
		if result.CacheHit {
			printStep("cached result")
		}
		printProducts(result.Products)
		return nil
	},
}

func init() {
	searchCmd.Flags().Float64("min", 0, "minimum price")
	searchCmd.Flags().Float64("max", 1000, "maximum price")
	searchCmd.Flags().Int("limit", 4, "maximum number of products")
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export or purge stored data",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all sessions and profiles as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var writer *os.File
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		} else {
			writer = os.Stdout
		}

		enc := json.NewEncoder(writer)

		resp, err := client.get(ctx, "/v1/sessions?limit=100")
		if err != nil {
			return err
		}
		var sessions []struct {
			ID string
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		// One record per session (with transcript), one per profile.
		for _, s := range sessions {
			detailResp, err := client.get(ctx, "/v1/sessions/"+s.ID)
			if err != nil {
				return err
			}
			var detail any
			if err := decodeJSON(detailResp, &detail); err != nil {
				return err
			}
			enc.Encode(map[string]any{"type": "session", "data": detail})

			profResp, err := client.get(ctx, "/v1/sessions/"+s.ID+"/profile")
			if err != nil {
				return err
			}
			var prof any
			if err := decodeJSON(profResp, &prof); err != nil {
				return err
			}
			enc.Encode(map[string]any{"type": "profile", "session_id": s.ID, "data": prof})
		}

		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		return nil
	},
}

var dataPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all sessions, transcripts and profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored data. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Deleting sessions...")
		failures, err := purgeSessions(cmd.Context(), client)
		if err != nil {
			return err
		}
		if failures > 0 {
			printWarning("%d session(s) could not be deleted", failures)
			return nil
		}

		printSuccess("All data purged")
		return nil
	},
}

// purgeSessions deletes sessions page by page until none remain, counting
// the ones the server refused. A page where nothing got deleted ends the
// loop so persistent failures cannot spin it forever.
func purgeSessions(ctx context.Context, client *apiClient) (int, error) {
	failures := 0
	for {
		resp, err := client.get(ctx, "/v1/sessions?limit=100")
		if err != nil {
			return failures, err
		}
		var sessions []struct {
			ID string
		}
		if err := decodeJSON(resp, &sessions); err != nil {
			return failures, err
		}
		if len(sessions) == 0 {
			return failures, nil
		}

		deleted := 0
		for _, s := range sessions {
			resp, err := client.delete(ctx, "/v1/sessions/"+s.ID)
			if err != nil {
				printError("Failed to delete session %s: %v", s.ID, err)
				failures++
				continue
			}
			resp.Body.Close()
			if resp.StatusCode >= 400 {
				printError("Failed to delete session %s: HTTP %d", s.ID, resp.StatusCode)
				failures++
				continue
			}
			deleted++
		}
		if deleted == 0 {
			return failures, nil
		}
	}
}

func init() {
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataPurgeCmd.Flags().Bool("confirm", false, "confirm data purge")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataPurgeCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
