// Package store implements the persistence collaborator the scheduler and
// connection manager depend on (§6), grounded on the teacher's generic
// BaseRepository[T] but parameterized over the primary key type too, since
// runs and servers are keyed by caller-supplied string ids rather than
// generated UUIDs.
package store

import (
	"context"

	"gorm.io/gorm"
)

// ListOptions paginates and orders a FindAll query.
type ListOptions struct {
	Offset  int
	Limit   int
	OrderBy string
	Order   string // asc or desc
}

func NewListOptions(page, perPage int) *ListOptions {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return &ListOptions{
		Offset:  (page - 1) * perPage,
		Limit:   perPage,
		OrderBy: "created_at",
		Order:   "desc",
	}
}

// BaseRepository provides the CRUD operations every row-backed repository
// in this package composes, generalized over both the row type T and its
// primary key type K.
type BaseRepository[T any, K any] struct {
	db *gorm.DB
}

func NewBaseRepository[T any, K any](db *gorm.DB) *BaseRepository[T, K] {
	return &BaseRepository[T, K]{db: db}
}

func (r *BaseRepository[T, K]) DB() *gorm.DB {
	return r.db
}

func (r *BaseRepository[T, K]) Create(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Create(entity).Error
}

func (r *BaseRepository[T, K]) Save(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Save(entity).Error
}

func (r *BaseRepository[T, K]) FindByID(ctx context.Context, id K) (*T, error) {
	var entity T
	if err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *BaseRepository[T, K]) FindAll(ctx context.Context, opts *ListOptions) ([]T, int64, error) {
	var entities []T
	var total int64

	query := r.db.WithContext(ctx).Model(new(T))
	query.Count(&total)

	if opts != nil {
		if opts.OrderBy != "" {
			query = query.Order(opts.OrderBy + " " + opts.Order)
		}
		query = query.Offset(opts.Offset).Limit(opts.Limit)
	}

	err := query.Find(&entities).Error
	return entities, total, err
}

func (r *BaseRepository[T, K]) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}
