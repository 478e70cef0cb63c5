package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talefold/talefold/internal/engine"
	"github.com/talefold/talefold/internal/state"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal session against the local engine",
	Long:  "Chat reads messages from stdin, runs each one through the turn pipeline, and prints the ranked stories with their score breakdowns.",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session key to use (default: random)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(&cfg)

	eng, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sessionKey := chatSession
	if sessionKey == "" {
		sessionKey = "chat-" + uuid.NewString()[:8]
	}

	count, err := eng.DB.CountStories()
	if err != nil {
		return err
	}
	fmt.Printf("session %s, %d stories in corpus\n", sessionKey, count)
	fmt.Println("commands: /state /stats /reset /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := chatCommand(eng, sessionKey, line); done {
				return nil
			}
			continue
		}

		res, err := eng.ProcessTurn(context.Background(), sessionKey, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		fmt.Printf("turn %d | topics: %s | intent: %s\n",
			res.State.TurnCount,
			strings.Join(res.State.ActiveTopics, ", "),
			strings.Join(res.Extracted.Intents, ", "))
		if res.Selection.Degraded {
			fmt.Println("(judge unavailable, metadata-only ranking)")
		}
		if len(res.Selection.Stories) == 0 {
			fmt.Println("no stories cleared the relevance floor")
			continue
		}
		for i, s := range res.Selection.Stories {
			fmt.Printf("%d. [%s] %s (score %.2f)\n",
				i+1, s.Story.ID, s.Story.Title, s.Breakdown.FinalScore)
		}
	}
	return scanner.Err()
}

// chatCommand handles a slash command; returns true when the loop should end.
func chatCommand(eng *engine.Engine, sessionKey, line string) bool {
	switch line {
	case "/quit", "/exit":
		return true
	case "/reset":
		eng.States.Reset(context.Background(), sessionKey)
		fmt.Println("session reset")
	case "/state":
		snap, ok := eng.States.Snapshot(sessionKey)
		if !ok {
			fmt.Println("no session yet")
			return false
		}
		printJSON(state.Summarize(snap))
	case "/stats":
		snap, ok := eng.States.Snapshot(sessionKey)
		if !ok {
			fmt.Println("no session yet")
			return false
		}
		printJSON(state.Usage(snap))
	default:
		fmt.Printf("unknown command %s\n", line)
	}
	return false
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
