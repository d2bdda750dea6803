package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// exportedToken is the JSON shape printed by cmdExport, deliberately
// excluding internal bookkeeping fields (refresh count, last-used
// timestamp) that carry no value outside this process.
type exportedToken struct {
	UserID       string   `json:"user_id"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresAt    string   `json:"expires_at"`
	Scopes       []string `json:"scopes,omitempty"`
}

// cmdExport prints --user's decrypted token JSON to stdout only. Nothing
// sensitive reaches stderr: all error paths here describe failure modes,
// never echo token material.
func cmdExport(args []string) error {
	userID, _ := bootstrapUserID(args)

	ctx := context.Background()
	cfg := loadConfig()
	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	rec, err := eng.service.Export(ctx, userID)
	if err != nil {
		return fmt.Errorf("export token: %w", err)
	}

	out := exportedToken{
		UserID:       rec.UserID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Scopes:       rec.Scopes,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
