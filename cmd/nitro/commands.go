package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/nitro/internal/language"
	"github.com/normanking/nitro/internal/memory"
	"github.com/normanking/nitro/internal/router"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND (One-shot query)
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask Nitro a question (one-shot query)",
		Long: `Route a question through the local model (or the cloud fallback)
and print the answer.

Examples:
  nitro ask "What is a goroutine?"
  nitro ask --session 3f2a... "And how do channels work?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))

			rt, _, _, err := buildRouter(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
			defer cancel()

			res, routeErr := rt.Route(ctx, question)

			header := fmt.Sprintf("%s · %s · %s", res.ModelID, res.Source, res.Latency.Round(time.Millisecond))
			if res.Failed() {
				fmt.Println(errStyle.Render(header))
			} else {
				fmt.Println(titleStyle.Render(header))
			}
			fmt.Println()
			fmt.Println(res.Text)

			if sessionID != "" {
				if err := recordAsk(ctx, sessionID, question, res); err != nil {
					return err
				}
			}
			return routeErr
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "record the exchange in this session")
	return cmd
}

func recordAsk(ctx context.Context, sessionID, question string, res router.Result) error {
	store, err := memory.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	source := "error"
	switch res.Source {
	case router.SourceLocal:
		source = "ollama_local"
	case router.SourceCloud:
		source = "gemini_cloud"
	}
	ok, err := store.AddTurn(ctx, sessionID, memory.Turn{
		Message:  question,
		Response: res.Text,
		Model:    res.ModelID,
		Source:   source,
	})
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	fmt.Println(labelStyle.Render("\nsaved to session " + sessionID))
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// DETECT COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func detectCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "detect [text]",
		Short: "Guess the language of a text",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				for _, code := range language.Codes() {
					row(code, language.Name(code))
				}
				return nil
			}
			code, confidence := language.NewDetector().Detect(strings.Join(args, " "))
			row("Language", fmt.Sprintf("%s (%s)", language.Name(code), code))
			row("Confidence", fmt.Sprintf("%.2f", confidence))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the supported languages")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func withStore(fn func(ctx context.Context, store *memory.Store) error) error {
	ctx := context.Background()
	store, err := memory.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"s"},
		Short:   "Manage conversation sessions",
	}

	var (
		limit  int
		userID string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *memory.Store) error {
				sessions, err := store.RecentSessions(ctx, limit, userID)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Println("No sessions found.")
					return nil
				}

				fmt.Printf("Found %d sessions:\n\n", len(sessions))
				for _, s := range sessions {
					fmt.Printf("  %s  %s\n", titleStyle.Render(s.SessionID), s.UserID)
					fmt.Printf("  %s %d messages, last updated %s\n", labelStyle.Render("└"), s.MessageCount, s.LastUpdated)
				}
				return nil
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum sessions to show")
	listCmd.Flags().StringVar(&userID, "user", "", "only sessions of this user")
	cmd.AddCommand(listCmd)

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show [session_id]",
		Short: "Show a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *memory.Store) error {
				sess, err := store.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(sess)
				}

				fmt.Println(titleStyle.Render("Session " + sess.SessionID))
				row("User", sess.UserID)
				row("Created", sess.CreatedAt)
				row("Messages", fmt.Sprint(sess.MessageCount))
				for _, m := range sess.Messages {
					fmt.Println()
					fmt.Printf("%s %s\n", labelStyle.Render(m.Timestamp), okStyle.Render(m.Sender+":"))
					fmt.Println(m.Message)
					if m.Response != "" {
						fmt.Printf("%s %s\n", labelStyle.Render("→"), truncate(m.Response, 300))
					}
				}
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw session document")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *memory.Store) error {
				ok, err := store.DeleteSession(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("session %s not found", args[0])
				}
				fmt.Println(okStyle.Render("Deleted " + args[0]))
				return nil
			})
		},
	})

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear all sessions without --yes")
			}
			return withStore(func(ctx context.Context, store *memory.Store) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}
				fmt.Println(okStyle.Render("All conversation memory cleared"))
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	cmd.AddCommand(clearCmd)

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show conversation store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *memory.Store) error {
				st, err := store.Statistics(ctx)
				if err != nil {
					return err
				}
				fmt.Println(titleStyle.Render("Conversation Store"))
				row("Backend", st.Backend)
				row("Sessions", fmt.Sprint(st.TotalSessions))
				row("Active", fmt.Sprint(st.ActiveSessions))
				row("Messages", fmt.Sprint(st.TotalMessages))
				row("Created", st.StorageCreated)
				row("Size", fmt.Sprintf("%.2f KB", st.StorageSizeKB))
				return nil
			})
		},
	}
}
