package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteDatabase implements Database using SQLite. Used for development and
// single-node deployments; the schema mirrors the Postgres one with SQLite
// column types.
type SQLiteDatabase struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteDatabase opens a SQLite-backed database
func NewSQLiteDatabase(path string, logger *slog.Logger) (*SQLiteDatabase, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Writers queue instead of failing immediately with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteDatabase{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteDatabase) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS code (
		code_hash BLOB PRIMARY KEY,
		code_hash_keccak BLOB NOT NULL,
		code BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		creation_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		runtime_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		UNIQUE(creation_code_hash, runtime_code_hash)
	);

	CREATE TABLE IF NOT EXISTS contract_deployments (
		id TEXT PRIMARY KEY,
		chain_id TEXT NOT NULL,
		address BLOB NOT NULL,
		transaction_hash BLOB NOT NULL,
		block_number INTEGER,
		transaction_index INTEGER,
		deployer BLOB,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chain_id, address, transaction_hash)
	);

	CREATE TABLE IF NOT EXISTS compiled_contracts (
		id TEXT PRIMARY KEY,
		compiler TEXT NOT NULL,
		version TEXT NOT NULL,
		language TEXT NOT NULL,
		name TEXT NOT NULL,
		fully_qualified_name TEXT NOT NULL,
		compilation_artifacts TEXT,
		sources TEXT NOT NULL,
		compiler_settings TEXT,
		creation_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		runtime_code_hash BLOB NOT NULL REFERENCES code(code_hash),
		creation_code_artifacts TEXT,
		runtime_code_artifacts TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(compiler, language, creation_code_hash, runtime_code_hash)
	);

	CREATE TABLE IF NOT EXISTS verified_contracts (
		id TEXT PRIMARY KEY,
		compilation_id TEXT NOT NULL REFERENCES compiled_contracts(id),
		deployment_id TEXT NOT NULL REFERENCES contract_deployments(id),
		creation_transformations TEXT,
		creation_values TEXT,
		runtime_transformations TEXT,
		runtime_values TEXT,
		runtime_match INTEGER NOT NULL,
		creation_match INTEGER NOT NULL,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deployments_lookup ON contract_deployments(chain_id, address);
	CREATE INDEX IF NOT EXISTS idx_verified_compilation ON verified_contracts(compilation_id);
	CREATE INDEX IF NOT EXISTS idx_verified_deployment ON verified_contracts(deployment_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// UpsertCode inserts a code blob, ignoring duplicates by content hash
func (s *SQLiteDatabase) UpsertCode(ctx context.Context, code *Code) error {
	query := `
		INSERT INTO code (code_hash, code_hash_keccak, code)
		VALUES (?, ?, ?)
		ON CONFLICT (code_hash) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, code.CodeHash, code.CodeHashKeccak, code.Code)
	return err
}

// UpsertContract inserts a bytecode pair, reusing the existing row on conflict
func (s *SQLiteDatabase) UpsertContract(ctx context.Context, c *Contract) (string, error) {
	insert := `
		INSERT INTO contracts (id, creation_code_hash, runtime_code_hash)
		VALUES (?, ?, ?)
		ON CONFLICT (creation_code_hash, runtime_code_hash) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, generateID(), c.CreationCodeHash, c.RuntimeCodeHash); err != nil {
		return "", err
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM contracts WHERE creation_code_hash = ? AND runtime_code_hash = ?`,
		c.CreationCodeHash, c.RuntimeCodeHash,
	).Scan(&id)
	return id, err
}

// UpsertDeployment inserts a deployment, reusing the existing row when the
// same (chain, address, transaction) was already recorded
func (s *SQLiteDatabase) UpsertDeployment(ctx context.Context, d *ContractDeployment) (string, error) {
	insert := `
		INSERT INTO contract_deployments
			(id, chain_id, address, transaction_hash, block_number, transaction_index, deployer, contract_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chain_id, address, transaction_hash) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert, generateID(), d.ChainID, d.Address, d.TransactionHash,
		d.BlockNumber, d.TransactionIndex, d.Deployer, d.ContractID)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM contract_deployments WHERE chain_id = ? AND address = ? AND transaction_hash = ?`,
		d.ChainID, d.Address, d.TransactionHash,
	).Scan(&id)
	return id, err
}

// UpsertCompiledContract inserts a compilation, reusing the existing row on conflict
func (s *SQLiteDatabase) UpsertCompiledContract(ctx context.Context, c *CompiledContract) (string, error) {
	insert := `
		INSERT INTO compiled_contracts
			(id, compiler, version, language, name, fully_qualified_name,
			 compilation_artifacts, sources, compiler_settings,
			 creation_code_hash, runtime_code_hash,
			 creation_code_artifacts, runtime_code_artifacts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (compiler, language, creation_code_hash, runtime_code_hash) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert, generateID(), c.Compiler, c.Version, c.Language,
		c.Name, c.FullyQualifiedName,
		jsonArg(c.CompilationArtifacts), jsonArg(c.Sources), jsonArg(c.CompilerSettings),
		c.CreationCodeHash, c.RuntimeCodeHash,
		jsonArg(c.CreationCodeArtifacts), jsonArg(c.RuntimeCodeArtifacts))
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM compiled_contracts
		 WHERE compiler = ? AND language = ? AND creation_code_hash = ? AND runtime_code_hash = ?`,
		c.Compiler, c.Language, c.CreationCodeHash, c.RuntimeCodeHash,
	).Scan(&id)
	return id, err
}

// InsertVerifiedContract appends one verification verdict
func (s *SQLiteDatabase) InsertVerifiedContract(ctx context.Context, v *VerifiedContract) error {
	query := `
		INSERT INTO verified_contracts
			(id, compilation_id, deployment_id,
			 creation_transformations, creation_values,
			 runtime_transformations, runtime_values,
			 runtime_match, creation_match)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, generateID(), v.CompilationID, v.DeploymentID,
		jsonArg(v.CreationTransformations), jsonArg(v.CreationValues),
		jsonArg(v.RuntimeTransformations), jsonArg(v.RuntimeValues),
		v.RuntimeMatch, v.CreationMatch)
	return err
}

// FindVerifiedContracts returns all verified rows for a bytecode pair
func (s *SQLiteDatabase) FindVerifiedContracts(ctx context.Context, creationCodeHash, runtimeCodeHash []byte) ([]VerifiedContract, error) {
	query := `
		SELECT vc.id, vc.compilation_id, vc.deployment_id,
		       vc.creation_transformations, vc.creation_values,
		       vc.runtime_transformations, vc.runtime_values,
		       vc.runtime_match, vc.creation_match
		FROM verified_contracts vc
		JOIN contract_deployments cd ON vc.deployment_id = cd.id
		JOIN contracts c ON cd.contract_id = c.id
		WHERE c.creation_code_hash = ? AND c.runtime_code_hash = ?
	`
	rows, err := s.db.QueryContext(ctx, query, creationCodeHash, runtimeCodeHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanVerifiedContracts(rows)
}
