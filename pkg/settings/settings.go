package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

const filterKey = "calendar.filter"

// Filter is the set of calendar ids whose events are shown.
// nil means no filter is persisted and all calendars are shown; an empty Filter shows none.
type Filter []string

type Repository interface {
	GetFilterIds(ctx context.Context) (Filter, error)
	SetFilterIds(ctx context.Context, ids Filter) error
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key string, value string) error
	DeleteValue(ctx context.Context, key string) error
}

type RepositoryImpl struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

// GetFilterIds reads the persisted filter. A missing, empty or undecodable value reads back as nil.
func (r *RepositoryImpl) GetFilterIds(ctx context.Context) (Filter, error) {
	value, ok, err := r.GetValue(ctx, filterKey)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return nil, nil
	}
	return decodeFilter(value), nil
}

// SetFilterIds persists ids. A nil filter removes the persisted value.
func (r *RepositoryImpl) SetFilterIds(ctx context.Context, ids Filter) error {
	if ids == nil {
		return r.DeleteValue(ctx, filterKey)
	}
	data, err := json.Marshal([]string(ids))
	if err != nil {
		return fmt.Errorf("failed to encode calendar filter: %w", err)
	}
	return r.SetValue(ctx, filterKey, string(data))
}

func (r *RepositoryImpl) GetValue(ctx context.Context, key string) (string, bool, error) {
	query := r.db.Rebind("SELECT value FROM setting WHERE name = ?")
	var value string
	err := r.db.GetContext(ctx, &value, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		err := fmt.Errorf("failed to read setting %s: %w", key, err)
		log.Error(err)
		return "", false, err
	}
	return value, true, nil
}

func (r *RepositoryImpl) SetValue(ctx context.Context, key string, value string) error {
	query := r.db.Rebind(`INSERT INTO setting (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`)
	_, err := r.db.ExecContext(ctx, query, key, value)
	if err != nil {
		err := fmt.Errorf("failed to store setting %s: %w", key, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) DeleteValue(ctx context.Context, key string) error {
	query := r.db.Rebind("DELETE FROM setting WHERE name = ?")
	_, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		err := fmt.Errorf("failed to delete setting %s: %w", key, err)
		log.Error(err)
		return err
	}
	return nil
}

func decodeFilter(value string) Filter {
	var ids []string
	if err := json.Unmarshal([]byte(value), &ids); err != nil {
		log.Warnf("Ignoring undecodable calendar filter %q: %v", value, err)
		return nil
	}
	if ids == nil {
		// stored "null"
		return nil
	}
	return ids
}
