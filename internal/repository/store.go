// Package repository maintains the filesystem mirror of verified contracts:
// one human-browsable directory per (match quality, chain, address), plus an
// optional content-addressed mirror filesystem.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verifactory/internal/match"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
)

// Errors returned by StoreMatch.
var (
	// ErrUnknownMatchStatus means the verdict was outside the expected
	// enumeration; a programming-contract violation on the caller's side.
	ErrUnknownMatchStatus = errors.New("unknown match status")
	// ErrPartialAlreadyVerified rejects a second partial match for a
	// deployment that already has one. A partial match never silently
	// overwrites another.
	ErrPartialAlreadyVerified = errors.New("contract already partially verified")
)

// Tag is the manifest rewritten on every repository write. Downstream
// consumers poll it as a cheap "has anything changed" signal.
type Tag struct {
	Timestamp         int64  `json:"timestamp"` // epoch milliseconds
	RepositoryVersion string `json:"repositoryVersion"`
}

// Store is the filesystem-backed repository of verified contracts.
type Store struct {
	root    string
	version string
	mirror  Mirror
	logger  *slog.Logger
}

// NewStore creates a repository store rooted at root. mirror may be nil, in
// which case no mirroring happens.
func NewStore(root, version string, mirror Mirror, logger *slog.Logger) *Store {
	return &Store{root: root, version: version, mirror: mirror, logger: logger}
}

// StoreMatch persists a verified contract under the quality tier derived from
// its verdict and returns that tier.
//
// A perfect verdict on either axis stores under full_match and deletes any
// existing partial_match directory for the same deployment (promotion). A
// partial verdict is rejected with ErrPartialAlreadyVerified when a partial
// directory already exists. The extra-file-input-bug sentinel is not stored;
// the call returns QualityNone with no error so the caller can hand the match
// back unmodified.
func (s *Store) StoreMatch(ctx context.Context, contract *match.CompiledContract, m *match.Match) (MatchQuality, error) {
	if !m.HasMatch() {
		if m.RuntimeMatch == match.StatusExtraFileInputBug || m.CreationMatch == match.StatusExtraFileInputBug {
			s.logger.Info("skipping extra-file-input-bug match",
				"chainId", m.ChainID, "address", m.Address.Hex())
			return QualityNone, nil
		}
		return QualityNone, fmt.Errorf("%w: runtime=%q creation=%q",
			ErrUnknownMatchStatus, m.RuntimeMatch, m.CreationMatch)
	}

	quality := QualityPartial
	if m.IsPerfect() {
		quality = QualityFull
	}

	if quality == QualityFull {
		// Promotion: the partial artifacts must not outlive a full match.
		if err := s.DeletePartialIfExists(m.ChainID, m.Address); err != nil {
			return QualityNone, fmt.Errorf("deleting partial match: %w", err)
		}
	} else {
		partialDir := s.ContractDir(QualityPartial, m.ChainID, m.Address)
		if _, err := os.Stat(partialDir); err == nil {
			return QualityNone, fmt.Errorf("%w: %s on chain %s",
				ErrPartialAlreadyVerified, m.Address.Hex(), m.ChainID)
		}
	}

	start := time.Now()
	if err := s.writeContract(quality, contract, m); err != nil {
		return QualityNone, err
	}
	metrics.RepositoryWrite(string(quality), time.Since(start))

	s.logger.Info("stored verified contract",
		"chainId", m.ChainID, "address", m.Address.Hex(), "quality", quality)

	if s.mirror != nil {
		if err := s.mirrorContract(ctx, quality, m); err != nil {
			return QualityNone, fmt.Errorf("mirroring contract: %w", err)
		}
	}

	return quality, nil
}

// writeContract writes all files for one verified deployment. Individual file
// writes overwrite in place; the coordinator's per-deployment guard is what
// prevents concurrent writers for the same address.
func (s *Store) writeContract(quality MatchQuality, contract *match.CompiledContract, m *match.Match) error {
	translations := make(map[string]string)

	for srcPath, content := range contract.Sources {
		sanitized, changed := SanitizePath(srcPath)
		if changed {
			translations[srcPath] = sanitized
		}
		// A path made of nothing but traversal segments sanitizes to "";
		// writing it would clobber the sources directory itself.
		if sanitized == "" {
			s.logger.Warn("dropping source with empty sanitized path",
				"chainId", m.ChainID, "address", m.Address.Hex(), "path", srcPath)
			continue
		}
		p := s.AbsoluteFilePath(quality, m.ChainID, m.Address, "sources", filepath.FromSlash(sanitized))
		if err := s.writeFile(p, []byte(content)); err != nil {
			return fmt.Errorf("writing source %s: %w", sanitized, err)
		}
	}

	// Only written when at least one path actually changed.
	if len(translations) > 0 {
		data, err := json.MarshalIndent(translations, "", "  ")
		if err != nil {
			return err
		}
		p := s.AbsoluteFilePath(quality, m.ChainID, m.Address, "path-translation.json")
		if err := s.writeFile(p, data); err != nil {
			return err
		}
	}

	metadataPath := s.AbsoluteFilePath(quality, m.ChainID, m.Address, "metadata.json")
	if err := s.writeFile(metadataPath, contract.Metadata); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	return s.writeConditionalFiles(quality, m)
}

// writeConditionalFiles writes the files that only exist when the match
// carries the corresponding data.
func (s *Store) writeConditionalFiles(quality MatchQuality, m *match.Match) error {
	write := func(name string, content []byte) error {
		return s.writeFile(s.AbsoluteFilePath(quality, m.ChainID, m.Address, name), content)
	}

	if m.AbiEncodedConstructorArguments != "" {
		if err := write("constructor-args.txt", []byte(m.AbiEncodedConstructorArguments)); err != nil {
			return err
		}
	}
	if m.CreatorTxHash != "" {
		if err := write("creator-tx-hash.txt", []byte(m.CreatorTxHash)); err != nil {
			return err
		}
	}
	if m.Create2Args != nil {
		data, err := json.MarshalIndent(m.Create2Args, "", "  ")
		if err != nil {
			return err
		}
		if err := write("create2-args.json", data); err != nil {
			return err
		}
	}
	if len(m.LibraryMap) > 0 {
		data, err := json.MarshalIndent(m.LibraryMap, "", "  ")
		if err != nil {
			return err
		}
		if err := write("library-map.json", data); err != nil {
			return err
		}
	}
	if len(m.ImmutableReferences) > 0 {
		if err := write("immutable-references.json", m.ImmutableReferences); err != nil {
			return err
		}
	}
	return nil
}

// DeletePartialIfExists removes the partial match directory for a deployment.
// No-op when absent.
func (s *Store) DeletePartialIfExists(chainID string, address common.Address) error {
	dir := s.ContractDir(QualityPartial, chainID, address)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return s.updateTag()
}

// writeFile writes content, creating parent directories, and refreshes the
// repository tag.
func (s *Store) writeFile(p string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return err
	}
	return s.updateTag()
}

func (s *Store) updateTag() error {
	tag := Tag{
		Timestamp:         time.Now().UnixMilli(),
		RepositoryVersion: s.version,
	}
	data, err := json.Marshal(tag)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.root, "manifest.json"), data, 0o644)
}
