// Package validation provides input validation for Verifactory.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Compiler versions carry the short commit, e.g. "0.8.26+commit.8a97fa7a".
// Vyper prereleases like "0.4.0b1" are allowed too.
var compilerVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+[0-9a-zA-Z]*(\+commit\.[0-9a-f]+)?$`)

var chainIDRegex = regexp.MustCompile(`^[1-9][0-9]*$`)

// ValidateAddress validates a 0x-prefixed Ethereum address
func ValidateAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateChainID validates a decimal chain ID string
func ValidateChainID(chainID string) error {
	if chainID == "" {
		return errors.New("chain ID cannot be empty")
	}
	if !chainIDRegex.MatchString(chainID) {
		return errors.New("invalid chain ID: must be a positive decimal number")
	}
	return nil
}

// ValidateCompilerVersion validates a compiler version string
func ValidateCompilerVersion(v string) error {
	if v == "" {
		return errors.New("compiler version cannot be empty")
	}
	if strings.HasPrefix(v, "v") {
		return errors.New("compiler version must not carry a leading v")
	}
	if !compilerVersionRegex.MatchString(v) {
		return errors.New("invalid compiler version: must be in format X.Y.Z or X.Y.Z+commit.<hash>")
	}
	return nil
}

// ValidateLanguage validates a compilation language name
func ValidateLanguage(lang string) error {
	switch lang {
	case "Solidity", "Yul", "Vyper":
		return nil
	default:
		return errors.New("unsupported language: must be Solidity, Yul or Vyper")
	}
}
