package main

import (
	"context"
	"fmt"
)

// cmdLogout revokes --user's authentication entirely.
func cmdLogout(args []string) error {
	userID, _ := bootstrapUserID(args)

	ctx := context.Background()
	cfg := loadConfig()
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	if err := eng.service.Revoke(ctx, userID); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	fmt.Printf("%s: logged out\n", userID)
	return nil
}
