package rediscache

import (
	"context"
	"errors"

	"github.com/Dumoney00/dumoney-invesment-sub000/internal/domain/wallet"
	"github.com/Dumoney00/dumoney-invesment-sub000/pkg/logger"
)

// AccountMirror is the slice of the mirror the account fallback reads and
// writes.
type AccountMirror interface {
	StoreAccount(ctx context.Context, acct wallet.Account) error
	Account(ctx context.Context, id string) (wallet.Account, error)
}

// AccountReader is the read path FallbackAccounts decorates.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (wallet.Account, error)
}

// FallbackAccounts answers account reads from the primary store and mirrors
// confirmed rows; when the primary is unreachable it serves the last
// mirrored row. A definitive not-found from the primary is authoritative
// and never falls back.
type FallbackAccounts struct {
	primary AccountReader
	mirror  AccountMirror
	log     *logger.Logger
}

var _ AccountReader = (*FallbackAccounts)(nil)

// NewFallbackAccounts decorates primary with the account mirror.
func NewFallbackAccounts(primary AccountReader, mirror AccountMirror, log *logger.Logger) *FallbackAccounts {
	if log == nil {
		log = logger.NewDefault("rediscache")
	}
	return &FallbackAccounts{primary: primary, mirror: mirror, log: log}
}

// GetAccount implements AccountReader.
func (f *FallbackAccounts) GetAccount(ctx context.Context, id string) (wallet.Account, error) {
	acct, err := f.primary.GetAccount(ctx, id)
	if err == nil {
		if storeErr := f.mirror.StoreAccount(ctx, acct); storeErr != nil {
			f.log.WithError(storeErr).Debug("mirror write skipped")
		}
		return acct, nil
	}
	if errors.Is(err, wallet.ErrAccountNotFound) {
		return wallet.Account{}, err
	}

	cached, cacheErr := f.mirror.Account(ctx, id)
	if cacheErr != nil {
		return wallet.Account{}, err
	}
	f.log.WithError(err).Warn("primary store unreachable; serving mirrored account")
	return cached, nil
}
