package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verifactory/internal/codehash"
	"github.com/pendergraft/verifactory/internal/config"
	"github.com/pendergraft/verifactory/internal/match"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
)

// AllianceStore persists verification results into the relational schema.
// Rows are append-only: a repeat verification for a bytecode pair is written
// only when it improves on what is already recorded.
//
// The database connection is opened lazily on first use. If opening or
// migrating fails the store logs the error once and degrades to a no-op for
// the remainder of the process; the filesystem repository keeps working
// independently.
type AllianceStore struct {
	cfg    config.DatabaseConfig
	logger *slog.Logger

	once sync.Once
	db   Database
}

// NewAllianceStore creates an alliance store. No connection is made until the
// first StoreMatch call.
func NewAllianceStore(cfg config.DatabaseConfig, logger *slog.Logger) *AllianceStore {
	return &AllianceStore{cfg: cfg, logger: logger}
}

func (s *AllianceStore) database(ctx context.Context) Database {
	s.once.Do(func() {
		db, err := New(s.cfg, s.logger)
		if err != nil {
			s.logger.Error("relational store unavailable, disabling", "error", err)
			return
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			s.logger.Error("relational store migration failed, disabling", "error", err)
			return
		}
		s.db = db
	})
	return s.db
}

// Close closes the underlying database if one was opened.
func (s *AllianceStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StoreMatch records a verification result. Contracts missing any of the four
// bytecodes or the creator transaction hash cannot be represented in the
// schema and are skipped with a log line rather than an error.
func (s *AllianceStore) StoreMatch(ctx context.Context, contract *match.CompiledContract, m *match.Match) error {
	db := s.database(ctx)
	if db == nil {
		return nil
	}

	if contract.CreationBytecode == "" || contract.RuntimeBytecode == "" ||
		m.OnchainCreationBytecode == "" || m.OnchainRuntimeBytecode == "" {
		s.logger.Warn("skipping relational storage, missing bytecode",
			"chainId", m.ChainID, "address", m.Address.Hex())
		metrics.RelationalStore("skipped")
		return nil
	}
	if m.CreatorTxHash == "" {
		s.logger.Warn("skipping relational storage, missing creator tx hash",
			"chainId", m.ChainID, "address", m.Address.Hex())
		metrics.RelationalStore("skipped")
		return nil
	}

	recompiledCreation := common.FromHex(contract.CreationBytecode)
	recompiledRuntime := common.FromHex(contract.RuntimeBytecode)
	onchainCreation := common.FromHex(m.OnchainCreationBytecode)
	onchainRuntime := common.FromHex(m.OnchainRuntimeBytecode)

	onchainCreationHash := codehash.Compute(onchainCreation)
	onchainRuntimeHash := codehash.Compute(onchainRuntime)

	existing, err := db.FindVerifiedContracts(ctx, onchainCreationHash.SHA256, onchainRuntimeHash.SHA256)
	if err != nil {
		return fmt.Errorf("looking up verified contracts: %w", err)
	}
	if len(existing) > 0 && !betterThanExisting(existing, m) {
		s.logger.Debug("discarding verification result, no improvement over stored rows",
			"chainId", m.ChainID, "address", m.Address.Hex())
		metrics.RelationalStore("discarded")
		return nil
	}

	recompiledCreationHash := codehash.Compute(recompiledCreation)
	recompiledRuntimeHash := codehash.Compute(recompiledRuntime)

	for _, c := range []*Code{
		{CodeHash: recompiledCreationHash.SHA256, CodeHashKeccak: recompiledCreationHash.Keccak256, Code: recompiledCreation},
		{CodeHash: recompiledRuntimeHash.SHA256, CodeHashKeccak: recompiledRuntimeHash.Keccak256, Code: recompiledRuntime},
		{CodeHash: onchainCreationHash.SHA256, CodeHashKeccak: onchainCreationHash.Keccak256, Code: onchainCreation},
		{CodeHash: onchainRuntimeHash.SHA256, CodeHashKeccak: onchainRuntimeHash.Keccak256, Code: onchainRuntime},
	} {
		if err := db.UpsertCode(ctx, c); err != nil {
			return fmt.Errorf("upserting code: %w", err)
		}
	}

	contractID, err := db.UpsertContract(ctx, &Contract{
		CreationCodeHash: onchainCreationHash.SHA256,
		RuntimeCodeHash:  onchainRuntimeHash.SHA256,
	})
	if err != nil {
		return fmt.Errorf("upserting contract: %w", err)
	}

	deploymentID, err := db.UpsertDeployment(ctx, &ContractDeployment{
		ChainID:          m.ChainID,
		Address:          m.Address.Bytes(),
		TransactionHash:  common.FromHex(m.CreatorTxHash),
		BlockNumber:      m.BlockNumber,
		TransactionIndex: m.TransactionIndex,
		Deployer:         common.FromHex(m.Deployer),
		ContractID:       contractID,
	})
	if err != nil {
		return fmt.Errorf("upserting deployment: %w", err)
	}

	sources, err := marshalJSON(contract.Sources)
	if err != nil {
		return fmt.Errorf("marshaling sources: %w", err)
	}
	creationArtifacts, err := marshalJSON(contract.CreationCodeArtifacts)
	if err != nil {
		return fmt.Errorf("marshaling creation artifacts: %w", err)
	}
	runtimeArtifacts, err := marshalJSON(contract.RuntimeCodeArtifacts)
	if err != nil {
		return fmt.Errorf("marshaling runtime artifacts: %w", err)
	}

	compilationID, err := db.UpsertCompiledContract(ctx, &CompiledContract{
		Compiler:             contract.Compiler,
		Version:              contract.CompilerVersion,
		Language:             contract.Language,
		Name:                 contract.Name,
		FullyQualifiedName:   contract.FullyQualifiedName(),
		CompilationArtifacts: contract.CompilationArtifacts,
		Sources:              sources,
		CompilerSettings:     contract.CompilerSettings,
		CreationCodeHash:     recompiledCreationHash.SHA256,
		RuntimeCodeHash:      recompiledRuntimeHash.SHA256,
		CreationCodeArtifacts: creationArtifacts,
		RuntimeCodeArtifacts:  runtimeArtifacts,
	})
	if err != nil {
		return fmt.Errorf("upserting compiled contract: %w", err)
	}

	// The same compilation being re-verified against the same bytecode pair
	// would otherwise append a duplicate verdict row.
	for _, v := range existing {
		if v.CompilationID == compilationID {
			s.logger.Debug("discarding verification result, compilation already recorded",
				"chainId", m.ChainID, "address", m.Address.Hex(), "compilationId", compilationID)
			metrics.RelationalStore("discarded")
			return nil
		}
	}

	verified := &VerifiedContract{
		CompilationID: compilationID,
		DeploymentID:  deploymentID,
		RuntimeMatch:  m.RuntimeMatch.IsMatch(),
		CreationMatch: m.CreationMatch.IsMatch(),
	}
	if verified.RuntimeMatch {
		if verified.RuntimeTransformations, err = transformationsJSON(m.RuntimeTransformations); err != nil {
			return fmt.Errorf("marshaling runtime transformations: %w", err)
		}
		if verified.RuntimeValues, err = marshalJSON(m.RuntimeValues); err != nil {
			return fmt.Errorf("marshaling runtime values: %w", err)
		}
	}
	if verified.CreationMatch {
		if verified.CreationTransformations, err = transformationsJSON(m.CreationTransformations); err != nil {
			return fmt.Errorf("marshaling creation transformations: %w", err)
		}
		if verified.CreationValues, err = marshalJSON(m.CreationValues); err != nil {
			return fmt.Errorf("marshaling creation values: %w", err)
		}
	}

	if err := db.InsertVerifiedContract(ctx, verified); err != nil {
		return fmt.Errorf("inserting verified contract: %w", err)
	}

	s.logger.Info("stored verification result",
		"chainId", m.ChainID, "address", m.Address.Hex(),
		"runtimeMatch", verified.RuntimeMatch, "creationMatch", verified.CreationMatch)
	metrics.RelationalStore("stored")
	return nil
}

// betterThanExisting decides whether a new result improves on the rows already
// stored for the same on-chain bytecode pair. Each axis improves when an
// existing row needed auxdata masking and the new match is perfect on that
// axis, or when an existing row failed the axis the new result matches.
func betterThanExisting(existing []VerifiedContract, m *match.Match) bool {
	for _, v := range existing {
		if hasAuxdataTransformation(v.RuntimeTransformations) && m.RuntimeMatch.IsPerfect() {
			return true
		}
		if !v.RuntimeMatch && m.RuntimeMatch.IsMatch() {
			return true
		}
		if hasAuxdataTransformation(v.CreationTransformations) && m.CreationMatch.IsPerfect() {
			return true
		}
		if !v.CreationMatch && m.CreationMatch.IsMatch() {
			return true
		}
	}
	return false
}

func hasAuxdataTransformation(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var ts []match.Transformation
	if err := json.Unmarshal(raw, &ts); err != nil {
		return false
	}
	for _, t := range ts {
		if t.Reason == match.ReasonCborAuxdata {
			return true
		}
	}
	return false
}

func transformationsJSON(ts []match.Transformation) (json.RawMessage, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	return json.Marshal(ts)
}
