// Command refsync imports reference library collections into a local
// chunked document store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	configfile "github.com/custodia-labs/refsync-cli/internal/adapters/driven/config/file"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/library/libraryapi"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/library/librarydb"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/library/throttled"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/library/unavailable"
	pipeline "github.com/custodia-labs/refsync-cli/internal/adapters/driven/pipeline/local"
	filestore "github.com/custodia-labs/refsync-cli/internal/adapters/driven/storage/file"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/refsync-cli/internal/adapters/driving/cli"
	"github.com/custodia-labs/refsync-cli/internal/core/domain"
	"github.com/custodia-labs/refsync-cli/internal/core/ports/driven"
	"github.com/custodia-labs/refsync-cli/internal/core/services"
	"github.com/custodia-labs/refsync-cli/internal/logger"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	config, err := configfile.NewConfigStore("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dataDir := config.GetString(configfile.KeyDataDir)
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".refsync", "data")
	}

	local, err := localSource(config)
	if err != nil {
		return err
	}
	defer local.Close()

	remote, err := remoteSource(config)
	if err != nil {
		return err
	}
	defer remote.Close()

	strategy := domain.StrategyAuto
	if s := config.GetString(configfile.KeyImportStrategy); s != "" {
		parsed, err := domain.ParseStrategy(s)
		if err != nil {
			return fmt.Errorf("config %s: %w", configfile.KeyImportStrategy, err)
		}
		strategy = parsed
	}
	router := services.NewRouter(local, remote, strategy)

	docs, err := sqlite.NewStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer docs.Close()

	embedder := embeddingService(config)
	if embedder != nil {
		defer embedder.Close()
	}

	var pipelineOpts []pipeline.Option
	if embedder != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithEmbedder(embedder))
	}
	docPipeline := pipeline.New(docs, pipelineOpts...)

	checkpoints, err := filestore.NewCheckpointStore(dataDir)
	if err != nil {
		return err
	}
	manifests, err := filestore.NewManifestStore(dataDir)
	if err != nil {
		return err
	}

	fingerprints := services.NewFingerprintService(
		embeddingModelName(embedder),
		services.ChunkingPolicy,
		services.EmbeddingPolicy,
	)

	importer := services.NewImporter(
		router, manifests, checkpoints, docPipeline, fingerprints, dataDir)

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Importer: importer,
		Config:   config,
	})
	return cli.Execute(ctx)
}

// localSource opens the reference manager's database when one is
// configured and present, the null source otherwise.
func localSource(config driven.ConfigStore) (driven.LibraryAdapter, error) {
	dbPath := config.GetString(configfile.KeyLibraryDBPath)
	if dbPath == "" {
		return unavailable.New(domain.NamespaceLocal,
			"no library database configured; set "+configfile.KeyLibraryDBPath), nil
	}

	var opts []librarydb.Option
	if dir := config.GetString(configfile.KeyLibraryStorage); dir != "" {
		opts = append(opts, librarydb.WithStorageDir(dir))
	}
	adapter, err := librarydb.New(dbPath, opts...)
	if err != nil {
		// A missing or locked database is a routing concern, not a
		// startup failure: fallback strategies still work via the API.
		logger.Warn("local library source unavailable: %v", err)
		return unavailable.New(domain.NamespaceLocal, err.Error()), nil
	}
	return adapter, nil
}

// remoteSource builds the throttled web API client when a base URL is
// configured, the null source otherwise.
func remoteSource(config driven.ConfigStore) (driven.LibraryAdapter, error) {
	baseURL := config.GetString(configfile.KeyAPIBaseURL)
	if baseURL == "" {
		return unavailable.New(domain.NamespaceRemote,
			"no web API configured; set "+configfile.KeyAPIBaseURL), nil
	}

	api, err := libraryapi.New(libraryapi.Config{
		BaseURL: baseURL,
		APIKey:  config.GetString(configfile.KeyAPIKey),
	})
	if err != nil {
		return nil, fmt.Errorf("configuring web API client: %w", err)
	}
	return throttled.New(api), nil
}

// embeddingService builds the configured embedding provider, nil when
// embeddings are disabled.
func embeddingService(config driven.ConfigStore) driven.EmbeddingService {
	baseURL := config.GetString(configfile.KeyEmbeddingURL)
	provider := config.GetString(configfile.KeyEmbeddingProvider)
	if baseURL == "" && provider == "" {
		return nil
	}

	model := config.GetString(configfile.KeyEmbeddingModel)

	if provider == "openai" {
		svc, err := openai.NewEmbeddingService(openai.Config{
			APIKey:  config.GetString(configfile.KeyEmbeddingAPIKey),
			BaseURL: baseURL,
			Model:   model,
		})
		if err != nil {
			logger.Warn("embedding provider disabled: %v", err)
			return nil
		}
		return svc
	}

	return ollama.NewEmbeddingService(ollama.Config{
		BaseURL: baseURL,
		Model:   model,
	})
}

// embeddingModelName names the model folded into content fingerprints.
// Without an embedder, fingerprints record that embeddings were off, so
// enabling them later re-processes everything.
func embeddingModelName(embedder driven.EmbeddingService) string {
	if embedder == nil {
		return "none"
	}
	return embedder.ModelName()
}
