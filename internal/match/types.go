// Package match defines the verification result types produced by the
// external bytecode matcher and consumed by the storage backends.
package match

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the match verdict for one bytecode axis (runtime or creation).
type Status string

// Match verdicts. An empty status means the axis did not match at all.
const (
	StatusPerfect Status = "perfect"
	StatusPartial Status = "partial"
	StatusNone    Status = ""

	// StatusExtraFileInputBug marks a known class of false mismatch caused by
	// extraneous files in the compiler input. Matches carrying it are handed
	// back to the caller instead of being stored.
	StatusExtraFileInputBug Status = "extra-file-input-bug"
)

// IsMatch reports whether the axis matched at all.
func (s Status) IsMatch() bool {
	return s == StatusPerfect || s == StatusPartial
}

// IsPerfect reports whether the axis matched without masking any differences.
func (s Status) IsPerfect() bool {
	return s == StatusPerfect
}

// Transformation reasons recorded by the matcher.
const (
	ReasonLibrary              = "library"
	ReasonImmutable            = "immutable"
	ReasonCallProtection       = "callProtection"
	ReasonCborAuxdata          = "cborAuxdata"
	ReasonConstructorArguments = "constructorArguments"
)

// Transformation is one masking operation the matcher applied to explain a
// benign difference between recompiled and on-chain bytecode.
type Transformation struct {
	Type   string `json:"type"` // "insert" or "replace"
	Reason string `json:"reason"`
	Offset int    `json:"offset"`
	ID     string `json:"id,omitempty"`
}

// TransformationValues carries the concrete bytes substituted by the
// transformations on one axis.
type TransformationValues struct {
	Libraries            map[string]string `json:"libraries,omitempty"`
	Immutables           map[string]string `json:"immutables,omitempty"`
	CallProtection       string            `json:"callProtection,omitempty"`
	CborAuxdata          map[string]string `json:"cborAuxdata,omitempty"`
	ConstructorArguments string            `json:"constructorArguments,omitempty"`
}

// Create2Args describes a CREATE2 deployment.
type Create2Args struct {
	DeployerAddress string          `json:"deployerAddress"`
	Salt            string          `json:"salt"`
	ConstructorArgs json.RawMessage `json:"constructorArgs,omitempty"`
}

// Match is the verdict for one (chain, address) deployment, as computed by
// the external matcher. The storage backends treat it as read-only input.
type Match struct {
	Address common.Address
	ChainID string

	RuntimeMatch  Status
	CreationMatch Status

	RuntimeTransformations  []Transformation
	CreationTransformations []Transformation
	RuntimeValues           TransformationValues
	CreationValues          TransformationValues

	LibraryMap          map[string]string
	ImmutableReferences json.RawMessage

	AbiEncodedConstructorArguments string
	CreatorTxHash                  string
	Deployer                       string
	BlockNumber                    int64
	TransactionIndex               int64
	Create2Args                    *Create2Args

	// On-chain bytecodes as fetched at match time, hex encoded with 0x prefix.
	OnchainRuntimeBytecode  string
	OnchainCreationBytecode string
}

// HasMatch reports whether at least one axis matched.
func (m *Match) HasMatch() bool {
	return m.RuntimeMatch.IsMatch() || m.CreationMatch.IsMatch()
}

// IsPerfect reports whether at least one axis matched perfectly.
func (m *Match) IsPerfect() bool {
	return m.RuntimeMatch.IsPerfect() || m.CreationMatch.IsPerfect()
}

// CodeArtifacts are the per-bytecode derived artifacts of one compilation.
type CodeArtifacts struct {
	SourceMap           string          `json:"sourceMap,omitempty"`
	LinkReferences      json.RawMessage `json:"linkReferences,omitempty"`
	ImmutableReferences json.RawMessage `json:"immutableReferences,omitempty"`
	CborAuxdata         json.RawMessage `json:"cborAuxdata,omitempty"`
}

// CompiledContract is one compilation result as produced by the compiler
// pipeline for the matched contract.
type CompiledContract struct {
	Name            string
	CompiledPath    string // source path of the target, e.g. "contracts/Token.sol"
	Compiler        string // "solc" or "vyper"
	CompilerVersion string
	Language        string // "Solidity" or "Vyper"

	Sources          map[string]string
	Metadata         json.RawMessage
	CompilerSettings json.RawMessage

	// Recompiled bytecodes, hex encoded with 0x prefix.
	CreationBytecode string
	RuntimeBytecode  string

	CompilationArtifacts  json.RawMessage
	CreationCodeArtifacts CodeArtifacts
	RuntimeCodeArtifacts  CodeArtifacts
}

// FullyQualifiedName returns the compiler-style identifier, "path:Name".
func (c *CompiledContract) FullyQualifiedName() string {
	return c.CompiledPath + ":" + c.Name
}
