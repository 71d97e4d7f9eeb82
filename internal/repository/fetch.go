package repository

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by read operations when no files exist for the
// requested deployment.
var ErrNotFound = errors.New("not found")

// File is one stored file of a verified contract.
type File struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FetchAllFileContents returns every file stored for a deployment at the
// given quality tier.
func (s *Store) FetchAllFileContents(quality MatchQuality, chainID string, address common.Address) ([]File, error) {
	dir := s.ContractDir(quality, chainID, address)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var files []File
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		files = append(files, File{
			Name:    d.Name(),
			Path:    filepath.ToSlash(rel),
			Content: string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// FetchAllFileContentsAny returns the files for a deployment at the best
// available quality: full_match preferred, falling back to partial_match.
func (s *Store) FetchAllFileContentsAny(chainID string, address common.Address) ([]File, MatchQuality, error) {
	files, err := s.FetchAllFileContents(QualityFull, chainID, address)
	if err == nil {
		return files, QualityFull, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, QualityNone, err
	}

	files, err = s.FetchAllFileContents(QualityPartial, chainID, address)
	if err != nil {
		return nil, QualityNone, err
	}
	return files, QualityPartial, nil
}

// ListVerifiedAddresses returns the checksummed addresses verified on a chain
// at the given quality tier, paginated. Addresses sort ascending unless
// descending is set; page is zero-based.
func (s *Store) ListVerifiedAddresses(quality MatchQuality, chainID string, page, limit int, descending bool) ([]string, error) {
	dir := filepath.Join(s.root, "contracts", string(quality), chainID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	addresses := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			addresses = append(addresses, e.Name())
		}
	}

	sort.Strings(addresses)
	if descending {
		for i, j := 0, len(addresses)-1; i < j; i, j = i+1, j-1 {
			addresses[i], addresses[j] = addresses[j], addresses[i]
		}
	}

	if limit <= 0 {
		return addresses, nil
	}
	start := page * limit
	if start >= len(addresses) {
		return nil, nil
	}
	end := start + limit
	if end > len(addresses) {
		end = len(addresses)
	}
	return addresses[start:end], nil
}
