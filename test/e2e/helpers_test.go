//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/verifactory/internal/config"
	"github.com/pendergraft/verifactory/internal/match"
	"github.com/pendergraft/verifactory/internal/repository"
	"github.com/pendergraft/verifactory/internal/storage"
	"github.com/pendergraft/verifactory/internal/verification"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("verifactory"),
		postgres.WithUsername("verifactory"),
		postgres.WithPassword("verifactory"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newPipeline wires a coordinator with a filesystem repository in a temp dir
// and the shared Postgres container as relational store.
func newPipeline(t *testing.T) (*verification.Coordinator, string) {
	t.Helper()

	root := t.TempDir()
	repo := repository.NewStore(root, "0.1", nil, testLogger())

	alliance := storage.NewAllianceStore(config.DatabaseConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: testCtx.ConnString},
	}, testLogger())
	t.Cleanup(func() { alliance.Close() })

	return verification.NewCoordinator(repo, alliance, nil, testLogger()), root
}

func testContract() *match.CompiledContract {
	return &match.CompiledContract{
		Name:            "Token",
		CompiledPath:    "contracts/Token.sol",
		Compiler:        "solc",
		CompilerVersion: "0.8.26+commit.8a97fa7a",
		Language:        "Solidity",
		Sources: map[string]string{
			"contracts/Token.sol": "contract Token {}",
		},
		Metadata:         []byte(`{"compiler":{"version":"0.8.26+commit.8a97fa7a"}}`),
		CompilerSettings: []byte(`{"optimizer":{"enabled":false}}`),
		CreationBytecode: "0x608060405260bb",
		RuntimeBytecode:  "0x608060405260cc",
	}
}

func testMatch(addr string, runtime, creation match.Status) *match.Match {
	return &match.Match{
		Address:                 common.HexToAddress(addr),
		ChainID:                 "1",
		RuntimeMatch:            runtime,
		CreationMatch:           creation,
		CreatorTxHash:           "0x72be8d8d91d1a46a2fc8d285de732d7e5bca1d3f0a9d3b325973bf2ccb4bbf8a",
		Deployer:                "0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2",
		BlockNumber:             1200000,
		TransactionIndex:        4,
		OnchainRuntimeBytecode:  "0x608060405260cc",
		OnchainCreationBytecode: "0x608060405260bb",
	}
}
