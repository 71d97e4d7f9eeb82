// Package storage implements the relational representation of verified
// contracts: content-addressed code blobs, deduplicated contracts and
// compilations, append-only verification history, and the better-match
// reconciliation policy applied on repeated verification of the same
// bytecode. All SQL lives in this package.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pendergraft/verifactory/internal/config"
)

// Code is an immutable byte blob keyed by its content hash. Two rows exist
// per contract version: creation bytecode and runtime bytecode. Rows are
// write-once; inserting the same hash again is a no-op.
type Code struct {
	CodeHash       []byte // sha256, primary key
	CodeHashKeccak []byte // kept for compatibility with external indexers
	Code           []byte
}

// Contract identifies a unique (creation, runtime) bytecode pair.
type Contract struct {
	ID               string
	CreationCodeHash []byte
	RuntimeCodeHash  []byte
}

// ContractDeployment is one on-chain occurrence of a Contract. A replacement
// verification inserts a new row with updated transaction metadata; existing
// rows are never mutated.
type ContractDeployment struct {
	ID               string
	ChainID          string
	Address          []byte
	TransactionHash  []byte
	BlockNumber      int64
	TransactionIndex int64
	Deployer         []byte
	ContractID       string
}

// CompiledContract is one compilation result, deduplicated by
// (compiler, language, creationCodeHash, runtimeCodeHash).
type CompiledContract struct {
	ID                    string
	Compiler              string
	Version               string
	Language              string
	Name                  string
	FullyQualifiedName    string
	CompilationArtifacts  json.RawMessage
	Sources               json.RawMessage // path -> content
	CompilerSettings      json.RawMessage
	CreationCodeHash      []byte
	RuntimeCodeHash       []byte
	CreationCodeArtifacts json.RawMessage
	RuntimeCodeArtifacts  json.RawMessage
}

// VerifiedContract joins a deployment and a compilation with the match
// verdict and the transformations explaining any masked differences. Rows are
// append-only: reconciliation decides whether to add one, never deletes.
type VerifiedContract struct {
	ID                      string
	CompilationID           string
	DeploymentID            string
	CreationTransformations json.RawMessage
	CreationValues          json.RawMessage
	RuntimeTransformations  json.RawMessage
	RuntimeValues           json.RawMessage
	RuntimeMatch            bool
	CreationMatch           bool
}

// Database is the narrow repository interface over the relational schema.
// Upserts are unique-constraint based (ON CONFLICT DO NOTHING) rather than
// wrapped in multi-statement transactions; orphaned Code or Contract rows
// left by a crash mid-sequence are idempotently reusable.
type Database interface {
	Migrate(ctx context.Context) error

	// UpsertCode inserts a code blob, ignoring duplicates by content hash.
	UpsertCode(ctx context.Context, code *Code) error
	// UpsertContract inserts a bytecode pair and returns the row id,
	// reusing the existing row on conflict.
	UpsertContract(ctx context.Context, c *Contract) (string, error)
	// UpsertDeployment inserts a deployment and returns the row id, reusing
	// the existing row when (chain, address, tx hash) already exists.
	UpsertDeployment(ctx context.Context, d *ContractDeployment) (string, error)
	// UpsertCompiledContract inserts a compilation and returns the row id,
	// reusing the existing row on conflict.
	UpsertCompiledContract(ctx context.Context, c *CompiledContract) (string, error)
	// InsertVerifiedContract appends one verification verdict.
	InsertVerifiedContract(ctx context.Context, v *VerifiedContract) error
	// FindVerifiedContracts returns all verified rows whose deployment's
	// contract carries the given on-chain bytecode pair.
	FindVerifiedContracts(ctx context.Context, creationCodeHash, runtimeCodeHash []byte) ([]VerifiedContract, error)

	Close() error
}

// New creates a database backend based on configuration.
func New(cfg config.DatabaseConfig, logger *slog.Logger) (Database, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteDatabase(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresDatabase(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
