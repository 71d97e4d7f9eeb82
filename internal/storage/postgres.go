package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresDatabase implements Database using PostgreSQL
type PostgresDatabase struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresDatabase opens a Postgres-backed database
func NewPostgresDatabase(url string, logger *slog.Logger) (*PostgresDatabase, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresDatabase{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresDatabase) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresDatabase) Migrate(ctx context.Context) error {
	schema := `
	-- Content-addressed bytecode blobs
	CREATE TABLE IF NOT EXISTS code (
		code_hash BYTEA PRIMARY KEY,
		code_hash_keccak BYTEA NOT NULL,
		code BYTEA NOT NULL
	);

	-- Unique (creation, runtime) bytecode pairs
	CREATE TABLE IF NOT EXISTS contracts (
		id UUID PRIMARY KEY,
		creation_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		runtime_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		UNIQUE(creation_code_hash, runtime_code_hash)
	);

	-- On-chain occurrences of a contract
	CREATE TABLE IF NOT EXISTS contract_deployments (
		id UUID PRIMARY KEY,
		chain_id TEXT NOT NULL,
		address BYTEA NOT NULL,
		transaction_hash BYTEA NOT NULL,
		block_number BIGINT,
		transaction_index BIGINT,
		deployer BYTEA,
		contract_id UUID NOT NULL REFERENCES contracts(id),
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(chain_id, address, transaction_hash)
	);

	-- Compilation results
	CREATE TABLE IF NOT EXISTS compiled_contracts (
		id UUID PRIMARY KEY,
		compiler TEXT NOT NULL,
		version TEXT NOT NULL,
		language TEXT NOT NULL,
		name TEXT NOT NULL,
		fully_qualified_name TEXT NOT NULL,
		compilation_artifacts JSONB,
		sources JSONB NOT NULL,
		compiler_settings JSONB,
		creation_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		runtime_code_hash BYTEA NOT NULL REFERENCES code(code_hash),
		creation_code_artifacts JSONB,
		runtime_code_artifacts JSONB,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(compiler, language, creation_code_hash, runtime_code_hash)
	);

	-- Append-only verification history
	CREATE TABLE IF NOT EXISTS verified_contracts (
		id UUID PRIMARY KEY,
		compilation_id UUID NOT NULL REFERENCES compiled_contracts(id),
		deployment_id UUID NOT NULL REFERENCES contract_deployments(id),
		creation_transformations JSONB,
		creation_values JSONB,
		runtime_transformations JSONB,
		runtime_values JSONB,
		runtime_match BOOLEAN NOT NULL,
		creation_match BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Indexes
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
func (s *PostgresDatabase) UpsertCode(ctx context.Context, code *Code) error {
	query := `
		INSERT INTO code (code_hash, code_hash_keccak, code)
		VALUES ($1, $2, $3)
		ON CONFLICT (code_hash) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, code.CodeHash, code.CodeHashKeccak, code.Code)
	return err
}

// UpsertContract inserts a bytecode pair, reusing the existing row on conflict
func (s *PostgresDatabase) UpsertContract(ctx context.Context, c *Contract) (string, error) {
	insert := `
		INSERT INTO contracts (id, creation_code_hash, runtime_code_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (creation_code_hash, runtime_code_hash) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, generateID(), c.CreationCodeHash, c.RuntimeCodeHash); err != nil {
		return "", err
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM contracts WHERE creation_code_hash = $1 AND runtime_code_hash = $2`,
		c.CreationCodeHash, c.RuntimeCodeHash,
	).Scan(&id)
	return id, err
}

// UpsertDeployment inserts a deployment, reusing the existing row when the
// same (chain, address, transaction) was already recorded
func (s *PostgresDatabase) UpsertDeployment(ctx context.Context, d *ContractDeployment) (string, error) {
	insert := `
		INSERT INTO contract_deployments
			(id, chain_id, address, transaction_hash, block_number, transaction_index, deployer, contract_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id, address, transaction_hash) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert, generateID(), d.ChainID, d.Address, d.TransactionHash,
		d.BlockNumber, d.TransactionIndex, d.Deployer, d.ContractID)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM contract_deployments WHERE chain_id = $1 AND address = $2 AND transaction_hash = $3`,
		d.ChainID, d.Address, d.TransactionHash,
	).Scan(&id)
	return id, err
}

// UpsertCompiledContract inserts a compilation, reusing the existing row on conflict
func (s *PostgresDatabase) UpsertCompiledContract(ctx context.Context, c *CompiledContract) (string, error) {
	insert := `
		INSERT INTO compiled_contracts
			(id, compiler, version, language, name, fully_qualified_name,
			 compilation_artifacts, sources, compiler_settings,
			 creation_code_hash, runtime_code_hash,
			 creation_code_artifacts, runtime_code_artifacts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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
		 WHERE compiler = $1 AND language = $2 AND creation_code_hash = $3 AND runtime_code_hash = $4`,
		c.Compiler, c.Language, c.CreationCodeHash, c.RuntimeCodeHash,
	).Scan(&id)
	return id, err
}

// InsertVerifiedContract appends one verification verdict
func (s *PostgresDatabase) InsertVerifiedContract(ctx context.Context, v *VerifiedContract) error {
	query := `
		INSERT INTO verified_contracts
			(id, compilation_id, deployment_id,
			 creation_transformations, creation_values,
			 runtime_transformations, runtime_values,
			 runtime_match, creation_match)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query, generateID(), v.CompilationID, v.DeploymentID,
		jsonArg(v.CreationTransformations), jsonArg(v.CreationValues),
		jsonArg(v.RuntimeTransformations), jsonArg(v.RuntimeValues),
		v.RuntimeMatch, v.CreationMatch)
	return err
}

// FindVerifiedContracts returns all verified rows for a bytecode pair
func (s *PostgresDatabase) FindVerifiedContracts(ctx context.Context, creationCodeHash, runtimeCodeHash []byte) ([]VerifiedContract, error) {
	query := `
		SELECT vc.id, vc.compilation_id, vc.deployment_id,
		       vc.creation_transformations, vc.creation_values,
		       vc.runtime_transformations, vc.runtime_values,
		       vc.runtime_match, vc.creation_match
		FROM verified_contracts vc
		JOIN contract_deployments cd ON vc.deployment_id = cd.id
		JOIN contracts c ON cd.contract_id = c.id
		WHERE c.creation_code_hash = $1 AND c.runtime_code_hash = $2
	`
	rows, err := s.db.QueryContext(ctx, query, creationCodeHash, runtimeCodeHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanVerifiedContracts(rows)
}

// scanVerifiedContracts reads verified_contracts rows; shared by both drivers
func scanVerifiedContracts(rows *sql.Rows) ([]VerifiedContract, error) {
	var out []VerifiedContract
	for rows.Next() {
		var v VerifiedContract
		var creationTrans, creationVals, runtimeTrans, runtimeVals sql.NullString
		if err := rows.Scan(&v.ID, &v.CompilationID, &v.DeploymentID,
			&creationTrans, &creationVals, &runtimeTrans, &runtimeVals,
			&v.RuntimeMatch, &v.CreationMatch); err != nil {
			return nil, err
		}
		if creationTrans.Valid {
			v.CreationTransformations = []byte(creationTrans.String)
		}
		if creationVals.Valid {
			v.CreationValues = []byte(creationVals.String)
		}
		if runtimeTrans.Valid {
			v.RuntimeTransformations = []byte(runtimeTrans.String)
		}
		if runtimeVals.Valid {
			v.RuntimeValues = []byte(runtimeVals.String)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
