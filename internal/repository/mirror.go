package repository

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pendergraft/verifactory/internal/match"
)

// Mirror is a content-addressed mirror filesystem, typically the MFS API of
// an IPFS daemon. Paths use "/" separators and are relative to the mirror
// root.
type Mirror interface {
	// Exists reports whether a file is already present at path (a stat call).
	Exists(ctx context.Context, path string) (bool, error)
	// MkdirAll creates the directory and any missing parents.
	MkdirAll(ctx context.Context, path string) error
	// Add writes content at path and returns its content id.
	Add(ctx context.Context, path string, content []byte) (string, error)
}

// mirrorContract copies every file under a contract directory into the mirror
// filesystem. Idempotent: files the mirror already has are skipped, so
// re-verification does not re-upload unchanged content.
func (s *Store) mirrorContract(ctx context.Context, quality MatchQuality, m *match.Match) error {
	dir := s.ContractDir(quality, m.ChainID, m.Address)
	prefix := path.Join("contracts", string(quality), m.ChainID, m.Address.Hex())

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		mirrorPath := path.Join(prefix, filepath.ToSlash(rel))

		exists, err := s.mirror.Exists(ctx, mirrorPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", mirrorPath, err)
		}
		if exists {
			return nil
		}

		if parent := path.Dir(mirrorPath); parent != "." {
			if err := s.mirror.MkdirAll(ctx, parent); err != nil {
				return fmt.Errorf("mkdir %s: %w", parent, err)
			}
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		cid, err := s.mirror.Add(ctx, mirrorPath, content)
		if err != nil {
			return fmt.Errorf("adding %s: %w", mirrorPath, err)
		}
		s.logger.Debug("mirrored file", "path", mirrorPath, "cid", cid)
		return nil
	})
}
