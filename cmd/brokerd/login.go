package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// cmdLogin starts a new authorization flow for --user (default bootstrap
// user) and prints instructions for completing it. When stdout is a TTY the
// full interactive instructions block is shown; when piped, plain text only
// (no ANSI, no decorative formatting) so scripts can parse the authorize URL
// off a known line.
func cmdLogin(args []string) error {
	userID, args := bootstrapUserID(args)
	var scopes []string
	if len(args) > 0 {
		scopes = strings.Split(args[0], ",")
	}

	ctx := context.Background()
	cfg := loadConfig()
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	authorizeURL, state, instructions, err := eng.service.StartFlow(ctx, userID, scopes)
	if err != nil {
		return fmt.Errorf("start oauth flow: %w", err)
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(instructions)
		return nil
	}

	fmt.Printf("authorize_url=%s\n", authorizeURL)
	fmt.Printf("state=%s\n", state)
	return nil
}
