// Package verification contains the business logic coordinating contract
// verification: per-deployment mutual exclusion, creator transaction
// enrichment, and fan-out to the storage backends.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verifactory/internal/match"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
	"github.com/pendergraft/verifactory/internal/repository"
)

// AlreadyBeingVerifiedError is returned when a verification for the same
// deployment is already in flight.
type AlreadyBeingVerifiedError struct {
	ChainID string
	Address string
}

func (e *AlreadyBeingVerifiedError) Error() string {
	return fmt.Sprintf("contract %s on chain %s is already being verified", e.Address, e.ChainID)
}

// RepositoryStore defines the filesystem storage operations needed by the
// coordinator.
type RepositoryStore interface {
	StoreMatch(ctx context.Context, contract *match.CompiledContract, m *match.Match) (repository.MatchQuality, error)
}

// RelationalStore defines the relational storage operations needed by the
// coordinator.
type RelationalStore interface {
	StoreMatch(ctx context.Context, contract *match.CompiledContract, m *match.Match) error
}

// CreatorTxFinder resolves the transaction that deployed a contract.
type CreatorTxFinder interface {
	FindCreatorTx(ctx context.Context, chainID string, address common.Address) (string, error)
}

// Coordinator serializes verification per deployment and persists results to
// both storage backends.
type Coordinator struct {
	repo       RepositoryStore
	relational RelationalStore
	creatorTx  CreatorTxFinder
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator creates a coordinator. relational and creatorTx may be nil
// to disable relational storage and creator-tx discovery respectively.
func NewCoordinator(repo RepositoryStore, relational RelationalStore, creatorTx CreatorTxFinder, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		repo:       repo,
		relational: relational,
		creatorTx:  creatorTx,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

func guardKey(chainID string, address common.Address) string {
	return chainID + ":" + strings.ToLower(address.Hex())
}

func (c *Coordinator) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.inflight[key]; exists {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

// StoreVerification persists an externally computed match. At most one
// verification is in flight per deployment; overlapping calls fail fast with
// AlreadyBeingVerifiedError. The returned quality reflects the filesystem
// store's verdict.
func (c *Coordinator) StoreVerification(ctx context.Context, contract *match.CompiledContract, m *match.Match) (repository.MatchQuality, error) {
	key := guardKey(m.ChainID, m.Address)
	if !c.acquire(key) {
		return repository.QualityNone, &AlreadyBeingVerifiedError{ChainID: m.ChainID, Address: m.Address.Hex()}
	}
	defer c.release(key)

	c.enrichCreatorTx(ctx, m)

	quality, err := c.repo.StoreMatch(ctx, contract, m)
	if err != nil {
		return repository.QualityNone, fmt.Errorf("storing to repository: %w", err)
	}
	if quality == repository.QualityNone {
		// The extra-file-input-bug sentinel: not stored anywhere.
		return quality, nil
	}

	if c.relational != nil {
		if err := c.relational.StoreMatch(ctx, contract, m); err != nil {
			return quality, fmt.Errorf("storing to relational store: %w", err)
		}
	}

	metrics.VerificationStored(m.ChainID, string(quality))
	return quality, nil
}

// enrichCreatorTx fills in the creator transaction hash when the caller did
// not supply one. Discovery failures leave it absent; creator-tx is an
// enrichment, not a requirement.
func (c *Coordinator) enrichCreatorTx(ctx context.Context, m *match.Match) {
	if m.CreatorTxHash != "" || c.creatorTx == nil {
		return
	}
	txHash, err := c.creatorTx.FindCreatorTx(ctx, m.ChainID, m.Address)
	if err != nil {
		c.logger.Debug("creator tx discovery failed",
			"chainId", m.ChainID, "address", m.Address.Hex(), "error", err)
		return
	}
	m.CreatorTxHash = txHash
}

// IsConflict reports whether err is one of the rejection errors a caller
// should surface as a conflict rather than a failure.
func IsConflict(err error) bool {
	var already *AlreadyBeingVerifiedError
	return errors.As(err, &already) || errors.Is(err, repository.ErrPartialAlreadyVerified)
}
