package main

import (
	"context"
	"fmt"
)

// cmdRefresh forces a refresh for --user outside the lifecycle manager's own
// threshold policy.
func cmdRefresh(args []string) error {
	userID, _ := bootstrapUserID(args)

	ctx := context.Background()
	cfg := loadConfig()
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	rec, err := eng.service.Refresh(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	fmt.Printf("%s: refreshed, token expires at %s\n", userID, rec.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
