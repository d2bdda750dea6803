package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactingHandlerMasksSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil)))

	logger.Info("token refreshed",
		"user_id", "user-1",
		"accessToken", "at-super-secret",
		"refreshToken", "rt-super-secret",
		"event", "refresh",
	)

	out := buf.String()
	if strings.Contains(out, "at-super-secret") || strings.Contains(out, "rt-super-secret") {
		t.Fatalf("expected secrets to be redacted, got: %s", out)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["accessToken"] != redactedValue {
		t.Fatalf("accessToken = %v", decoded["accessToken"])
	}
	if decoded["user_id"] != "user-1" {
		t.Fatalf("user_id should survive unredacted, got %v", decoded["user_id"])
	}
}

func TestRedactingHandlerWithAttrsRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil))).
		With("verifier", "pkce-verifier-value")

	logger.Info("flow started")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["verifier"] != redactedValue {
		t.Fatalf("verifier = %v", decoded["verifier"])
	}
}
