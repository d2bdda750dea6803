package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// cmdStatus reports --user's current authentication state, rendering the
// expiry the way an operator-facing CLI should ("in 4 minutes") rather than
// as a raw timestamp.
func cmdStatus(args []string) error {
	userID, _ := bootstrapUserID(args)

	ctx := context.Background()
	cfg := loadConfig()
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	authenticated, expiresIn, needsRefresh, err := eng.service.Status(ctx, userID)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if !authenticated {
		fmt.Printf("%s: not authenticated\n", userID)
		return nil
	}

	expiresAt := time.Now().Add(expiresIn)
	fmt.Printf("%s: authenticated, token expires %s\n", userID, humanize.Time(expiresAt))
	if needsRefresh {
		fmt.Println("  needs refresh")
	}
	return nil
}
