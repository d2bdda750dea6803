package main

import (
	"context"
	"fmt"
)

// cmdCallback completes a pending flow: brokerd callback <code> [state].
func cmdCallback(args []string) error {
	if len(args) < 1 {
		return &usageError{"usage: brokerd callback <code> [state]"}
	}
	code := args[0]
	state := ""
	if len(args) > 1 {
		state = args[1]
	}

	ctx := context.Background()
	cfg := loadConfig()
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	rec, err := eng.service.CompleteFlow(ctx, code, state)
	if err != nil {
		return fmt.Errorf("complete oauth flow: %w", err)
	}
	fmt.Printf("authenticated as %q, token expires at %s\n", rec.UserID, rec.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
