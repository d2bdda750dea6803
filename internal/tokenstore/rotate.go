package tokenstore

import (
	"context"
	"fmt"

	"github.com/claude-oauth-broker/broker/internal/crypto"
)

// Rotate re-seals every persistent row under newEnvelope. Each row is opened
// with the store's current envelope, re-sealed, and written back inside its
// own transaction, so a crash mid-rotation leaves already-rotated rows on the
// new key and the remainder on the old one — never a row torn between the
// two keys.
func (s *Store) Rotate(ctx context.Context, newEnvelope *crypto.Envelope) error {
	rows, err := s.db.listRows(ctx)
	if err != nil {
		return fmt.Errorf("list rows for rotation: %w", err)
	}

	for _, r := range rows {
		if err := s.rotateRow(ctx, r, newEnvelope); err != nil {
			return fmt.Errorf("rotate user %s: %w", r.UserID, err)
		}
	}

	s.env = newEnvelope
	s.cache.Flush()
	return nil
}

func (s *Store) rotateRow(ctx context.Context, r row, newEnvelope *crypto.Envelope) error {
	rec, err := openRecord(s.env, &r)
	if err != nil {
		return err
	}
	resealed, err := sealRecord(newEnvelope, rec)
	if err != nil {
		return err
	}
	return s.db.withTx(ctx, func(q queryable) error {
		tx := &sqliteDB{db: s.db.db, q: q}
		return tx.upsertRow(ctx, resealed)
	})
}
