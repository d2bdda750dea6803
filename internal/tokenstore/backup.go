package tokenstore

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const backupSchemaVersion = 1

// manifest is the first entry written to a backup archive.
type manifest struct {
	SchemaVersion int       `json:"schema_version"`
	RowCount      int       `json:"row_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Backup bundles every persistent row into a tar archive: a manifest entry
// followed by one JSON entry per row. Sealed ciphertext travels as-is; the
// envelope key is never written to the archive.
func (s *Store) Backup(ctx context.Context, w io.Writer) error {
	rows, err := s.db.listRows(ctx)
	if err != nil {
		return fmt.Errorf("list rows for backup: %w", err)
	}

	tw := tar.NewWriter(w)
	defer tw.Close()

	m := manifest{SchemaVersion: backupSchemaVersion, RowCount: len(rows), CreatedAt: time.Now()}
	if err := writeTarJSON(tw, "manifest.json", m); err != nil {
		return err
	}

	for i, r := range rows {
		name := fmt.Sprintf("rows/%s.json", r.UserID)
		if err := writeTarJSON(tw, name, r); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return tw.Close()
}

// Restore replaces the persistent tier's contents with the rows encoded in
// an archive produced by Backup. The whole operation runs in a transaction:
// a malformed archive leaves the existing data untouched.
func (s *Store) Restore(ctx context.Context, r io.Reader) error {
	tr := tar.NewReader(r)

	var rows []row
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if hdr.Name == "manifest.json" {
			continue
		}
		var rr row
		if err := json.NewDecoder(tr).Decode(&rr); err != nil {
			return fmt.Errorf("decode %s: %w", hdr.Name, err)
		}
		rows = append(rows, rr)
	}

	err := s.db.withTx(ctx, func(q queryable) error {
		tx := &sqliteDB{db: s.db.db, q: q}
		if _, err := q.ExecContext(ctx, `DELETE FROM token_records`); err != nil {
			return fmt.Errorf("clear existing rows: %w", err)
		}
		for _, rr := range rows {
			if err := tx.upsertRow(ctx, &rr); err != nil {
				return fmt.Errorf("restore row %s: %w", rr.UserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

func writeTarJSON(tw *tar.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	hdr := &tar.Header{
		Name: name,
		Mode: 0o600,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	_, err = tw.Write(data)
	return err
}
