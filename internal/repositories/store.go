package repositories

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrConversationNotFound = errors.New("conversation not found")
)

// psql builds Postgres statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store groups the repositories so they can share one transaction.
type Store interface {
	Users() UserRepository
	Tokens() TokenRepository
	Groups() GroupRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
	Attachments() AttachmentRepository

	// WithinTx runs fn against repositories bound to a single transaction.
	// The transaction is rolled back when fn returns an error.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// SQLStore is the Postgres implementation of Store.
type SQLStore struct {
	db *sqlx.DB
	q  querier
}

// NewSQLStore constructs a SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, q: db}
}

func (s *SQLStore) Users() UserRepository                 { return &UserRepo{q: s.q} }
func (s *SQLStore) Tokens() TokenRepository               { return &TokenRepo{q: s.q} }
func (s *SQLStore) Groups() GroupRepository               { return &GroupRepo{q: s.q} }
func (s *SQLStore) Conversations() ConversationRepository { return &ConversationRepo{q: s.q} }
func (s *SQLStore) Messages() MessageRepository           { return &MessageRepo{q: s.q} }
func (s *SQLStore) Attachments() AttachmentRepository     { return &AttachmentRepo{q: s.q} }

// WithinTx implements Store. Nested calls reuse the outer transaction.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(Store) error) (err error) {
	if _, ok := s.q.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&SQLStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func get(ctx context.Context, q querier, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return q.GetContext(ctx, dest, query, args...)
}

func selectAll(ctx context.Context, q querier, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	return q.SelectContext(ctx, dest, query, args...)
}

func exec(ctx context.Context, q querier, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
