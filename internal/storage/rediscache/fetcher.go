package rediscache

import (
	"context"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/internal/services/activity"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// TransactionMirror is the slice of the mirror the fetcher fallback reads
// and writes.
type TransactionMirror interface {
	StoreTransactions(ctx context.Context, accountID string, txs []wallet.TransactionRecord) error
	Transactions(ctx context.Context, accountID string) ([]wallet.TransactionRecord, error)
}

// FallbackFetcher reads from the primary fetcher and mirrors confirmed
// results; when the primary is unreachable it serves the mirror instead.
type FallbackFetcher struct {
	primary activity.Fetcher
	mirror  TransactionMirror
	log     *logger.Logger
}

var _ activity.Fetcher = (*FallbackFetcher)(nil)

// NewFallbackFetcher decorates primary with the transaction mirror.
func NewFallbackFetcher(primary activity.Fetcher, mirror TransactionMirror, log *logger.Logger) *FallbackFetcher {
	if log == nil {
		log = logger.NewDefault("rediscache")
	}
	return &FallbackFetcher{primary: primary, mirror: mirror, log: log}
}

// FetchRecent implements activity.Fetcher.
func (f *FallbackFetcher) FetchRecent(ctx context.Context, accountID string, limit int) ([]wallet.TransactionRecord, error) {
	txs, err := f.primary.FetchRecent(ctx, accountID, limit)
	if err == nil {
		if storeErr := f.mirror.StoreTransactions(ctx, accountID, txs); storeErr != nil {
			f.log.WithError(storeErr).Debug("mirror write skipped")
		}
		return txs, nil
	}

	cached, cacheErr := f.mirror.Transactions(ctx, accountID)
	if cacheErr != nil {
		// Mirror empty or unreachable; surface the primary failure.
		return nil, err
	}
	f.log.WithError(err).Warn("primary store unreachable; serving mirrored transactions")
	if limit > 0 && len(cached) > limit {
		cached = cached[:limit]
	}
	return cached, nil
}
