package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deskd/internal/assistant"
	"deskd/internal/types"
)

var (
	askNoSearch bool
	askNoAgents bool
	askWait     time.Duration
)

// askCmd handles a single utterance and prints the reply. When the reply is
// an acknowledgment for background work, it waits for the completion
// notification up to --wait.
var askCmd = &cobra.Command{
	Use:   "ask [utterance]",
	Short: "Ask the assistant a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askNoSearch, "no-search", false, "skip staged memory search")
	askCmd.Flags().BoolVar(&askNoAgents, "no-agents", false, "answer inline instead of orchestrating in the background")
	askCmd.Flags().DurationVar(&askWait, "wait", 90*time.Second, "how long to wait for a background result")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx, loadedConfig)
	if err != nil {
		return err
	}
	defer app.close()

	opts := types.DefaultRequestOptions()
	opts.PreferSemanticSearch = !askNoSearch
	opts.UseAgentOrchestration = !askNoAgents

	text := strings.Join(args, " ")

	notifications, cancel := app.notifier.Subscribe()
	defer cancel()

	resp := app.assistant.Handle(ctx, assistant.Request{
		Text:      text,
		SessionID: sessionID,
		Options:   opts,
	})
	fmt.Println(resp.Text)

	if !resp.Async {
		return nil
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, askWait)
	defer cancelWait()
	select {
	case note, ok := <-notifications:
		if ok {
			fmt.Println(note.Response)
		}
	case <-waitCtx.Done():
		fmt.Println("(still working in the background; check `deskd recent` later)")
	}
	return nil
}
