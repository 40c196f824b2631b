package todo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// Repository persists the whole day -> items mapping as one document.
type Repository interface {
	Load(ctx context.Context) (map[string][]Item, error)
	Save(ctx context.Context, items map[string][]Item) error
}

type RepositoryImpl struct {
	db *sqlx.DB
	tx *sqlx.Tx
}

func NewRepository(db *sqlx.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() sqlx.ExtContext {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo *RepositoryImpl) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// The Rollback will be a no-op if the transaction was already committed
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	txRepo := &RepositoryImpl{db: r.db, tx: tx}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type itemRow struct {
	ID        string `db:"id"`
	Day       string `db:"day"`
	Position  int    `db:"position"`
	Title     string `db:"title"`
	Completed bool   `db:"completed"`
}

func (r *RepositoryImpl) Load(ctx context.Context) (map[string][]Item, error) {
	q := r.getQueryer()
	var rows []itemRow
	err := sqlx.SelectContext(ctx, q, &rows, "SELECT id, day, position, title, completed FROM todo_item ORDER BY day, position")
	if err != nil {
		err := fmt.Errorf("failed to load todo items: %w", err)
		log.Error(err)
		return nil, err
	}

	items := make(map[string][]Item)
	for _, row := range rows {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			log.Warnf("Skipping todo item with invalid id %q: %v", row.ID, err)
			continue
		}
		items[row.Day] = append(items[row.Day], Item{
			ID:          id,
			Title:       row.Title,
			IsCompleted: row.Completed,
		})
	}
	return items, nil
}

// Save replaces all stored items with items.
func (r *RepositoryImpl) Save(ctx context.Context, items map[string][]Item) error {
	return r.WithTransaction(ctx, func(repo *RepositoryImpl) error {
		return repo.replaceAll(ctx, items)
	})
}

func (r *RepositoryImpl) replaceAll(ctx context.Context, items map[string][]Item) error {
	q := r.getQueryer()
	if _, err := q.ExecContext(ctx, "DELETE FROM todo_item"); err != nil {
		err := fmt.Errorf("failed to clear todo items: %w", err)
		log.Error(err)
		return err
	}

	insert := q.Rebind("INSERT INTO todo_item (id, day, position, title, completed) VALUES (?, ?, ?, ?, ?)")
	for day, dayItems := range items {
		for position, item := range dayItems {
			_, err := q.ExecContext(ctx, insert, item.ID.String(), day, position, item.Title, item.IsCompleted)
			if err != nil {
				err := fmt.Errorf("failed to store todo item %s: %w", item.ID, err)
				log.Error(err)
				return err
			}
		}
	}
	return nil
}
