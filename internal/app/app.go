package app

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/medgraph/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/medgraph/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/embed"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/loader"
	fsloader "github.com/OFFIS-RIT/medgraph/backend/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/medgraph/backend/pkg/loader/s3"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/terminology"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// DefaultEmbedDim matches the entities.embedding column.
const DefaultEmbedDim = 1536

// NewAIClient builds the model client selected by AI_ADAPTER. Anything but
// "ollama" uses the OpenAI compatible client.
func NewAIClient() (ai.GraphAIClient, error) {
	parallel := int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15))
	timeout := util.GetEnvMillis("AI_TIMEOUT_MS", 5*time.Minute)
	dim := util.GetEnvInt("AI_EMBED_DIM", DefaultEmbedDim)

	switch adapter := util.GetEnv("AI_ADAPTER"); adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbedDim:        dim,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: parallel,
			Timeout:               timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return client, nil
	case "", "openai":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			EmbedDim:        dim,

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: parallel,
			Timeout:               timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

// NewEmbedder wraps client in an embedder with an LRU cache of
// EMBED_CACHE_SIZE vectors. A size of zero or less disables the cache.
func NewEmbedder(client ai.GraphAIClient) (embed.Embedder, error) {
	base := embed.NewAIEmbedder(client)
	size := util.GetEnvInt("EMBED_CACHE_SIZE", 2048)
	if size <= 0 {
		return base, nil
	}
	cache, err := embed.NewCache(size)
	if err != nil {
		return nil, err
	}
	return embed.NewCachedEmbedder(base, cache), nil
}

// NewPool connects to DATABASE_URL with the pgvector types registered on
// every connection.
func NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(util.GetEnv("DATABASE_URL"))
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewNormalizer builds the cached terminology normalizer. TERMINOLOGY_SOURCE
// selects the "db" tables or the built-in "dictionary". With "db" and
// TERMINOLOGY_SEED set, the built-in dictionary is written to the tables
// first.
func NewNormalizer(ctx context.Context, pool *pgxpool.Pool) (*terminology.Normalizer, error) {
	size := util.GetEnvInt("TERMINOLOGY_CACHE_SIZE", terminology.DefaultCacheSize)

	var svc terminology.Service
	switch source := util.GetEnvString("TERMINOLOGY_SOURCE", "dictionary"); source {
	case "dictionary":
		svc = terminology.DefaultDictionary()
	case "db":
		if pool == nil {
			return nil, fmt.Errorf("TERMINOLOGY_SOURCE=db needs a database")
		}
		dbSvc := terminology.NewDBService(pool)
		if util.GetEnvBool("TERMINOLOGY_SEED", false) {
			entries := terminology.DefaultDictionary().Entries()
			if err := dbSvc.Seed(ctx, entries); err != nil {
				return nil, fmt.Errorf("seed terminology: %w", err)
			}
			logger.Info("[App][Terminology] Seeded terminology tables", "entries", len(entries))
		}
		svc = dbSvc
	default:
		return nil, fmt.Errorf("unknown TERMINOLOGY_SOURCE %q", source)
	}

	return terminology.NewNormalizer(svc, size)
}

// NewRecordFileLoader returns the loader for record batch files selected by
// RECORD_SOURCE ("s3" or "fs"). It returns nil when RECORD_SOURCE is unset,
// in which case ingest messages must carry their records inline.
func NewRecordFileLoader(ctx context.Context) (loader.RecordFileLoader, error) {
	switch source := util.GetEnv("RECORD_SOURCE"); source {
	case "":
		return nil, nil
	case "s3":
		l, err := s3loader.NewS3RecordFileLoader(ctx, s3loader.NewS3RecordFileLoaderParams{
			Bucket:    util.GetEnv("AWS_BUCKET"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	case "fs":
		l, err := fsloader.NewIORecordFileLoader(util.GetEnvString("RECORD_DIR", "."))
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown RECORD_SOURCE %q", source)
	}
}
