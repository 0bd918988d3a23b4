package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"deskd/internal/assistant"
	"deskd/internal/types"
)

// chatCmd runs the interactive loop. Background completions interleave with
// the prompt as they arrive.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func runChat(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, loadedConfig)
	if err != nil {
		return err
	}
	defer app.close()

	session := sessionID
	if session == "" {
		session = uuid.NewString()
	}

	notifications, cancel := app.notifier.Subscribe()
	defer cancel()
	go func() {
		for note := range notifications {
			fmt.Printf("\n[background] %s\n> ", note.Response)
		}
	}()

	fmt.Printf("deskd %s — session %s (exit with /quit)\n", loadedConfig.Version, session)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		resp := app.assistant.Handle(ctx, assistant.Request{
			Text:      line,
			SessionID: session,
			Options:   types.DefaultRequestOptions(),
		})
		fmt.Println(resp.Text)
	}
	return scanner.Err()
}
