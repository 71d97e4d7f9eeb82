package repository

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MatchQuality is the storage tier of a verified contract.
type MatchQuality string

const (
	// QualityFull holds perfect bytecode matches.
	QualityFull MatchQuality = "full_match"
	// QualityPartial holds matches achieved only after masking known-benign
	// differences.
	QualityPartial MatchQuality = "partial_match"
	// QualityNone means nothing was stored.
	QualityNone MatchQuality = ""
)

// ContractDir returns the directory holding all files for one verified
// deployment. Pure function of its inputs; the address is checksummed.
func (s *Store) ContractDir(quality MatchQuality, chainID string, address common.Address) string {
	return filepath.Join(s.root, "contracts", string(quality), chainID, address.Hex())
}

// AbsoluteFilePath returns the path of one file inside a contract directory.
// Deterministic: identical inputs always yield the identical path.
func (s *Store) AbsoluteFilePath(quality MatchQuality, chainID string, address common.Address, elems ...string) string {
	parts := append([]string{s.ContractDir(quality, chainID, address)}, elems...)
	return filepath.Join(parts...)
}

// SanitizePath makes an untrusted source path safe to use below a contract's
// sources directory. Separators are normalized to "/", absolute roots are
// forced relative, and traversal segments are dropped. Returns the sanitized
// path and whether it differs from the input. Sanitizing an already-sanitized
// path returns it unchanged.
func SanitizePath(p string) (string, bool) {
	original := p

	p = strings.ReplaceAll(p, "\\", "/")

	// Strip windows drive prefixes like "C:/"
	if len(p) >= 2 && p[1] == ':' {
		p = p[2:]
	}

	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")

	// Drop every ".." segment rather than resolving it, so no input can
	// escape the sources directory.
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == ".." || seg == "." || seg == "" {
			continue
		}
		kept = append(kept, seg)
	}
	p = strings.Join(kept, "/")

	return p, p != original
}
