package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pendergraft/verifactory/internal/chains"
	"github.com/pendergraft/verifactory/internal/compilers"
	"github.com/pendergraft/verifactory/internal/compilers/solc"
	"github.com/pendergraft/verifactory/internal/compilers/vyper"
	"github.com/pendergraft/verifactory/internal/config"
	"github.com/pendergraft/verifactory/internal/match"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
	"github.com/pendergraft/verifactory/internal/repository"
	"github.com/pendergraft/verifactory/internal/server"
	"github.com/pendergraft/verifactory/internal/storage"
	"github.com/pendergraft/verifactory/internal/validation"
	"github.com/pendergraft/verifactory/internal/verification"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "verifactory-server",
		Short:   "Verifactory server - smart contract verification store",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (TOML)")

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(configPath)
	}

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newPrewarmCmd(&configPath))
	rootCmd.AddCommand(newImportCmd(&configPath))
	rootCmd.AddCommand(newCompileCmd(&configPath))
	rootCmd.AddCommand(newVersionsCmd(&configPath))

	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func newPrewarmCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prewarm",
		Short: "Download all solc release binaries into the compiler cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrewarm(cmd.Context(), *configPath)
		},
	}
}

func newImportCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a verification result from a JSON file",
		Long: `Store a verification result from a JSON file.

The file holds the compiled contract and its match against an on-chain
deployment:

  {"contract": {...}, "match": {...}}

The result is written to the filesystem repository and, when a database
is configured, to the relational store.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), *configPath, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "verification result file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newCompileCmd(configPath *string) *cobra.Command {
	var compiler string
	var compilerVersion string
	var file string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Run a compiler on a standard-json input file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), *configPath, compiler, compilerVersion, file)
		},
	}

	cmd.Flags().StringVar(&compiler, "compiler", "solc", "compiler to run (solc or vyper)")
	cmd.Flags().StringVar(&compilerVersion, "compiler-version", "", "compiler version, e.g. 0.8.26+commit.8a97fa7a (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "standard-json input file (required)")
	_ = cmd.MarkFlagRequired("compiler-version")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newVersionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List available solc release versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersions(cmd.Context(), *configPath)
		},
	}
}

func runPrewarm(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)

	solcCompiler := newSolcCompiler(cfg, logger)
	defer solcCompiler.Close()

	if err := solcCompiler.Prewarm(ctx, cfg.Compilers.PrewarmBatchSize); err != nil {
		return fmt.Errorf("prewarming compilers: %w", err)
	}
	return nil
}

func runImport(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	var result struct {
		Contract match.CompiledContract `json:"contract"`
		Match    match.Match            `json:"match"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("parsing %s: %w", file, err)
	}
	if !result.Match.HasMatch() {
		return fmt.Errorf("result in %s has no matching axis", file)
	}
	if err := validation.ValidateChainID(result.Match.ChainID); err != nil {
		return err
	}
	if err := validation.ValidateAddress(result.Match.Address.Hex()); err != nil {
		return err
	}
	if err := validation.ValidateCompilerVersion(result.Contract.CompilerVersion); err != nil {
		return err
	}
	if err := validation.ValidateLanguage(result.Contract.Language); err != nil {
		return err
	}

	coordinator, alliance, err := newCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer alliance.Close()

	quality, err := coordinator.StoreVerification(ctx, &result.Contract, &result.Match)
	if err != nil {
		return fmt.Errorf("storing verification: %w", err)
	}

	fmt.Printf("stored %s on chain %s as %s\n", result.Match.Address.Hex(), result.Match.ChainID, quality)
	return nil
}

func runCompile(ctx context.Context, configPath, compiler, compilerVersion, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)

	if err := validation.ValidateCompilerVersion(compilerVersion); err != nil {
		return err
	}

	input, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}

	var output json.RawMessage
	switch compiler {
	case "solc":
		c := newSolcCompiler(cfg, logger)
		defer c.Close()
		output, err = c.Compile(ctx, compilerVersion, input)
	case "vyper":
		output, err = newVyperCompiler(cfg, logger).Compile(ctx, compilerVersion, input)
	default:
		return fmt.Errorf("unknown compiler %q", compiler)
	}
	if err != nil {
		return fmt.Errorf("compiling: %w", err)
	}

	os.Stdout.Write(output)
	fmt.Println()
	return nil
}

func runVersions(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg)

	downloader := newDownloader(cfg, logger)
	list, err := solc.FetchVersionList(ctx, downloader, cfg.Compilers.SolcRepo)
	if err != nil {
		return fmt.Errorf("fetching version list: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tENGINE")
	for _, v := range list.ReleaseVersions() {
		engine := "native"
		if solc.IsLegacy(v) || compilers.SolcPlatform() == "" {
			engine = "emscripten"
		}
		fmt.Fprintf(w, "%s\t%s\n", v, engine)
	}
	w.Flush()

	return nil
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting verifactory-server", "version", version)

	metrics.Init(cfg.Server.MetricsEnabled, "verifactory")

	solcCompiler := newSolcCompiler(cfg, logger)
	defer solcCompiler.Close()

	if cfg.Compilers.Prewarm {
		go func() {
			if err := solcCompiler.Prewarm(context.Background(), cfg.Compilers.PrewarmBatchSize); err != nil {
				logger.Warn("compiler prewarm failed", "error", err)
			}
		}()
	}

	srv := server.New(cfg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newCoordinator wires the verification store stack: filesystem repository,
// optional mirror, optional relational store, creator-tx discovery.
func newCoordinator(cfg *config.Config, logger *slog.Logger) (*verification.Coordinator, *storage.AllianceStore, error) {
	var mirror repository.Mirror
	if cfg.Repository.MirrorAPI != "" {
		mirror = repository.NewMFSMirror(cfg.Repository.MirrorAPI)
	}
	repo := repository.NewStore(cfg.Repository.Path, cfg.Repository.Version, mirror, logger)

	alliance := storage.NewAllianceStore(cfg.Database, logger)

	registry, err := chains.LoadRegistry(cfg.Chains.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("loading chain registry: %w", err)
		}
		logger.Warn("chain registry file not found, creator-tx discovery disabled", "path", cfg.Chains.Path)
		registry = chains.NewRegistry()
	}
	finder := chains.NewCreatorTxFinder(registry)

	return verification.NewCoordinator(repo, alliance, finder, logger), alliance, nil
}

func newDownloader(cfg *config.Config, logger *slog.Logger) *compilers.Downloader {
	return compilers.NewDownloader(
		cfg.Compilers.DownloadRetries,
		time.Duration(cfg.Compilers.DownloadTimeout)*time.Second,
		cfg.Compilers.DownloadRPS,
		logger,
	)
}

func newSolcCompiler(cfg *config.Config, logger *slog.Logger) *solc.Compiler {
	downloader := newDownloader(cfg, logger)
	native := solc.NewNativeLocator(downloader, cfg.Compilers.CacheDir, cfg.Compilers.SolcRepo, compilers.SolcPlatform(), logger)
	emscripten := solc.NewEmscriptenLocator(downloader, cfg.Compilers.CacheDir, cfg.Compilers.SoljsonRepo)
	return solc.NewCompiler(native, emscripten, downloader, cfg.Compilers.SolcRepo, cfg.Compilers.OutputLimitMB, logger)
}

func newVyperCompiler(cfg *config.Config, logger *slog.Logger) *vyper.Compiler {
	downloader := newDownloader(cfg, logger)
	return vyper.NewCompiler(downloader, cfg.Compilers.CacheDir, cfg.Compilers.VyperRepo, compilers.VyperPlatform(), cfg.Compilers.OutputLimitMB, logger)
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	format := cfg.Logging.Format
	if format == "" {
		// Text for interactive sessions, JSON when output is collected
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
