package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/cartsync/internal/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS carts (
			partition TEXT PRIMARY KEY,
			items JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bookmarks (
			partition TEXT PRIMARY KEY,
			products JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_carts_updated_at ON carts(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_bookmarks_updated_at ON bookmarks(updated_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// tables maps an entity to its table and JSON column.
var tables = map[domain.Entity][2]string{
	domain.EntityCart:      {"carts", "items"},
	domain.EntityBookmarks: {"bookmarks", "products"},
}

func (s *PostgresStore) read(ctx context.Context, entity domain.Entity, partition string, out any) error {
	t := tables[entity]
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE partition = $1`, t[1], t[0]), partition,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", entity, err)
	}
	return json.Unmarshal(data, out)
}

// update runs apply on the locked row of partition inside one transaction.
func (s *PostgresStore) update(ctx context.Context, entity domain.Entity, partition string, load func([]byte) error, apply func() ([]byte, error)) error {
	t := tables[entity]

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (partition) VALUES ($1) ON CONFLICT (partition) DO NOTHING`, t[0]), partition,
	); err != nil {
		return fmt.Errorf("ensure %s row: %w", entity, err)
	}

	var data []byte
	if err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE partition = $1 FOR UPDATE`, t[1], t[0]), partition,
	).Scan(&data); err != nil {
		return fmt.Errorf("lock %s: %w", entity, err)
	}
	if err := load(data); err != nil {
		return fmt.Errorf("decode %s: %w", entity, err)
	}

	next, err := apply()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $2::jsonb, updated_at = NOW() WHERE partition = $1`, t[0], t[1]),
		partition, next,
	); err != nil {
		return fmt.Errorf("update %s: %w", entity, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetCart(ctx context.Context, partition string) (domain.CartState, error) {
	items := []domain.LineItem{}
	if err := s.read(ctx, domain.EntityCart, partition, &items); err != nil {
		return domain.CartState{}, err
	}
	return domain.CartState{Items: items}.Normalize(), nil
}

func (s *PostgresStore) UpdateCart(ctx context.Context, partition string, fn func(domain.CartState) domain.CartState) (domain.CartState, error) {
	var next domain.CartState
	err := s.update(ctx, domain.EntityCart, partition,
		func(data []byte) error {
			items := []domain.LineItem{}
			if err := json.Unmarshal(data, &items); err != nil {
				return err
			}
			next = domain.CartState{Items: items}.Normalize()
			return nil
		},
		func() ([]byte, error) {
			next = fn(next).Normalize()
			return json.Marshal(next.Items)
		},
	)
	if err != nil {
		return domain.CartState{}, err
	}
	return next, nil
}

func (s *PostgresStore) GetBookmarks(ctx context.Context, partition string) (domain.BookmarkState, error) {
	products := []domain.Product{}
	if err := s.read(ctx, domain.EntityBookmarks, partition, &products); err != nil {
		return domain.BookmarkState{}, err
	}
	return domain.BookmarkState{Products: products}.Normalize(), nil
}

func (s *PostgresStore) UpdateBookmarks(ctx context.Context, partition string, fn func(domain.BookmarkState) domain.BookmarkState) (domain.BookmarkState, error) {
	var next domain.BookmarkState
	err := s.update(ctx, domain.EntityBookmarks, partition,
		func(data []byte) error {
			products := []domain.Product{}
			if err := json.Unmarshal(data, &products); err != nil {
				return err
			}
			next = domain.BookmarkState{Products: products}.Normalize()
			return nil
		},
		func() ([]byte, error) {
			next = fn(next).Normalize()
			return json.Marshal(next.Products)
		},
	)
	if err != nil {
		return domain.BookmarkState{}, err
	}
	return next, nil
}
