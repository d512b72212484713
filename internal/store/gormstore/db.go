// Package gormstore implements store.Store on gorm. Postgres gets pgvector
// ranking, full-text search and row-level security keyed on app.owner_id;
// sqlite is supported for tests and local runs without vector ranking.
package gormstore

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/feichai0017/manual-retrieval/config"
	"github.com/feichai0017/manual-retrieval/internal/store"
	"github.com/feichai0017/manual-retrieval/pkg/logger"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

type Store struct {
	db      *gorm.DB
	dialect string
	// vector is set when the embedding column is a pgvector column.
	vector bool
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects with the configured driver and, when enabled, migrates the schema.
func Open(ctx context.Context, cfg *config.DatabaseConfig, dimension int, log logger.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case dialectPostgres:
		dialector = postgres.Open(cfg.DSN)
	case dialectSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	s := New(db, log)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx, dimension); err != nil {
			return nil, err
		}
	} else {
		s.vector = s.probeVector(ctx)
	}
	return s, nil
}

// New wraps an open connection. Call Migrate before use on a fresh database.
func New(db *gorm.DB, log logger.Logger) *Store {
	return &Store{
		db:      db,
		dialect: db.Dialector.Name(),
		logger:  log.Named("store"),
	}
}

// Migrate creates the schema. On postgres it tries to enable pgvector; when
// the extension cannot be created the embedding column is stored as text and
// ranking reports store.ErrRankingUnavailable.
func (s *Store) Migrate(ctx context.Context, dimension int) error {
	if s.dialect != dialectPostgres {
		if err := s.db.WithContext(ctx).AutoMigrate(&documentRow{}, &chunkRow{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		s.vector = false
		return nil
	}

	db := s.db.WithContext(ctx)
	embeddingType := fmt.Sprintf("vector(%d)", dimension)
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		s.logger.Warn("pgvector extension unavailable, vector ranking disabled", logger.Error(err))
		embeddingType = "text"
	}

	for _, stmt := range postgresSchema(embeddingType) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	s.vector = s.probeVector(ctx)
	if s.vector {
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`).Error; err != nil {
			s.logger.Warn("Failed to create vector index", logger.Error(err))
		}
	}
	s.logger.Info("Schema migrated",
		logger.String("dialect", s.dialect),
		logger.Bool("vector_ranking", s.vector),
	)
	return nil
}

// probeVector checks that pgvector is installed and the embedding column uses it.
func (s *Store) probeVector(ctx context.Context) bool {
	if s.dialect != dialectPostgres {
		return false
	}
	var ok bool
	err := s.db.WithContext(ctx).Raw(`
		SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')
		   AND EXISTS (
		       SELECT 1 FROM information_schema.columns
		        WHERE table_name = 'document_chunks'
		          AND column_name = 'embedding'
		          AND udt_name = 'vector')`).Scan(&ok).Error
	if err != nil {
		s.logger.Warn("Vector capability probe failed", logger.Error(err))
		return false
	}
	return ok
}

// VectorRanking reports whether RankChunks can serve queries.
func (s *Store) VectorRanking() bool {
	return s.vector
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// scoped runs fn in a transaction bound to ownerID. On postgres the owner is
// also published to the row-level-security policies.
func (s *Store) scoped(ctx context.Context, ownerID string, fn func(tx *gorm.DB) error) error {
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.dialect == dialectPostgres {
			if err := tx.Exec(`SELECT set_config('app.owner_id', ?, true)`, ownerID).Error; err != nil {
				return fmt.Errorf("set owner scope: %w", err)
			}
		}
		return fn(tx)
	})
}

func postgresSchema(embeddingType string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id                uuid PRIMARY KEY,
			owner_id          text NOT NULL,
			title             text NOT NULL,
			file_name         text NOT NULL,
			storage_path      text NOT NULL,
			file_size         bigint NOT NULL DEFAULT 0,
			category          text NOT NULL CHECK (category IN ('FCOM','QRH','TRAINING','MEL','AFM','OTHER')),
			status            text NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','processing','completed','failed')),
			total_chunks      integer NOT NULL DEFAULT 0,
			page_count        integer NOT NULL DEFAULT 0,
			processing_method text NOT NULL DEFAULT '',
			error_message     text NOT NULL DEFAULT '',
			created_at        timestamptz NOT NULL DEFAULT now(),
			updated_at        timestamptz NOT NULL DEFAULT now(),
			CHECK (status = 'completed' OR total_chunks = 0)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_owner_created ON documents (owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id          uuid PRIMARY KEY,
			document_id uuid NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			owner_id    text NOT NULL,
			chunk_index integer NOT NULL CHECK (chunk_index >= 0),
			content     text NOT NULL CHECK (content <> ''),
			page_number integer,
			section     text,
			embedding   %s,
			created_at  timestamptz NOT NULL DEFAULT now(),
			UNIQUE (document_id, chunk_index)
		)`, embeddingType),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_owner_id ON document_chunks (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_fts ON document_chunks USING gin (to_tsvector('english', content))`,
		`ALTER TABLE documents ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE documents FORCE ROW LEVEL SECURITY`,
		`ALTER TABLE document_chunks ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE document_chunks FORCE ROW LEVEL SECURITY`,
		ownerPolicy("documents"),
		ownerPolicy("document_chunks"),
	}
}

func ownerPolicy(table string) string {
	return fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE tablename = '%[1]s' AND policyname = '%[1]s_owner') THEN
		CREATE POLICY %[1]s_owner ON %[1]s
			USING (owner_id = current_setting('app.owner_id', true))
			WITH CHECK (owner_id = current_setting('app.owner_id', true));
	END IF;
END $$`, table)
}
