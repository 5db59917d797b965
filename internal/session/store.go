package session

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/db"
	"github.com/hpungsan/medcase/internal/errors"
)

// Store persists session state by token.
type Store interface {
	// Load returns nil, nil when the session is missing or expired.
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, id string, st *State, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// NewStore builds the store selected by cfg.SessionBackend.
func NewStore(cfg *config.Config, database *sql.DB) (Store, error) {
	switch strings.ToLower(cfg.SessionBackend) {
	case "", config.SessionBackendSQLite:
		return NewSQLStore(database), nil
	case config.SessionBackendRedis:
		return NewRedisStore(cfg.RedisAddr)
	default:
		return nil, errors.NewConfiguration(fmt.Sprintf("unknown session_backend %q", cfg.SessionBackend))
	}
}

func decodeState(data []byte) (*State, error) {
	st := NewState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("decode session: %w", err))
	}
	if st.Chats == nil {
		st.Chats = NewState().Chats
	}
	return st, nil
}

// SQLStore keeps sessions in the sessions table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(database *sql.DB) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) Load(ctx context.Context, id string) (*State, error) {
	data, ok, err := db.LoadSession(ctx, s.db, id, db.Now())
	if err != nil || !ok {
		return nil, err
	}
	return decodeState(data)
}

func (s *SQLStore) Save(ctx context.Context, id string, st *State, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.NewInternal(err)
	}
	return db.SaveSession(ctx, s.db, id, data, db.Now()+ttl.Milliseconds())
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return db.DeleteSession(ctx, s.db, id)
}

// Purge removes expired rows.
func (s *SQLStore) Purge(ctx context.Context) (int, error) {
	return db.PurgeExpiredSessions(ctx, s.db, db.Now())
}

const redisKeyPrefix = "medcase:session:"

// RedisStore keeps sessions in Redis with native key expiry.
type RedisStore struct {
	rdb *goredis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(addr string) (*RedisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.NewConfiguration("redis_addr is required for the redis session backend")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.NewConfiguration(fmt.Sprintf("redis ping: %v", err))
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return decodeState(data)
}

func (s *RedisStore) Save(ctx context.Context, id string, st *State, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+id, data, ttl).Err(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
