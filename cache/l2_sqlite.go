package cache

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

type SqliteBackendConfig struct {
	Path string `json:"path"`
}

// SqliteBackend is an embedded persistent L2 tier. Unlike the in-process
// map it survives restarts, which is the point of the longer L2 TTL.
type SqliteBackend struct {
	logger   types.Logger
	config   *SqliteBackendConfig
	db       *sql.DB
	setCount atomic.Uint64
	started  int32
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_expires_at ON kv (expires_at);
`

func NewSqliteBackend(logger types.Logger, config *types.L2BackendConfig) (types.L2Backend, error) {
	sqliteConfig := &SqliteBackendConfig{
		Path: "newscache-l2.db",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite backend config")
		}
	}

	db, err := sql.Open("sqlite3", sqliteConfig.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to create sqlite schema")
	}

	return &SqliteBackend{
		logger: logger,
		config: sqliteConfig,
		db:     db,
	}, nil
}

func (s *SqliteBackend) Name() string { return "sqlite" }

func (s *SqliteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv WHERE key = ? AND expires_at > ?",
		key, time.Now().UnixMilli(),
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError(err, "sqlite get failed")
	}

	return value, true, nil
}

func (s *SqliteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)",
		key, value, time.Now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return types.WrapError(err, "sqlite set failed")
	}

	// Opportunistic sweep; sqlite has no server-side expiry.
	if s.setCount.Add(1)%64 == 0 {
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM kv WHERE expires_at <= ?", time.Now().UnixMilli(),
		); err != nil {
			s.logger.Warn("Sqlite expiry sweep failed", zap.Error(err))
		}
	}

	return nil
}

func (s *SqliteBackend) Available() bool {
	return s.db != nil
}

func (s *SqliteBackend) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}

	s.logger.Info("Sqlite l2 backend started", zap.String("path", s.config.Path))
	return nil
}

func (s *SqliteBackend) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.started, 1, 0) {
		return nil
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return types.WrapError(err, "failed to close sqlite database")
		}
		s.db = nil
	}

	s.logger.Info("Sqlite l2 backend stopped")
	return nil
}

func (s *SqliteBackend) IsRunning() bool {
	return atomic.LoadInt32(&s.started) == 1
}
