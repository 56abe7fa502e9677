package store

import (
	"context"

	"github.com/yangwenmai/draftflow/internal/model"
)

// StatusCounts holds the number of items per status.
type StatusCounts map[model.Status]int

// ItemReader provides read access to items.
type ItemReader interface {
	GetItem(ctx context.Context, id string) (*model.ContentItem, error)
	ListItems(ctx context.Context, f model.ItemFilter) ([]model.ContentItem, error)
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// ItemWriter provides write access to items.
type ItemWriter interface {
	CreateItem(ctx context.Context, item model.ContentItem) error
	UpdateItem(ctx context.Context, item *model.ContentItem) error
}

// JobRecovery clears job markers left behind by a previous process.
type JobRecovery interface {
	ResetStaleJobs(ctx context.Context, reason model.ErrorInfo) (int64, error)
}

// StatusRenamer rewrites stored status tokens.
type StatusRenamer interface {
	RenameStatus(ctx context.Context, from, to string) (int64, error)
}

// ItemRepository combines all item-related operations for the lifecycle layer.
type ItemRepository interface {
	ItemReader
	ItemWriter
}
