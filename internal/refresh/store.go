// Package refresh keeps the single refresh-token slot of each identity.
package refresh

import (
	"context"
	"errors"
	"fmt"

	"go-auth-service/internal/model"
	"go-auth-service/internal/repository"
)

type tokenVerifier interface {
	VerifyTokenHash(raw string, hash string) bool
}

// Store reads and writes refresh slots inside one identity transaction;
// atomicity and isolation are those of the transaction.
type Store struct {
	tx       repository.IdentityTx
	verifier tokenVerifier
}

func NewStore(tx repository.IdentityTx, verifier tokenVerifier) *Store {
	return &Store{tx: tx, verifier: verifier}
}

// Save overwrites the slot with hashedRefresh. This is the rotation point.
func (s *Store) Save(ctx context.Context, userID int64, hashedRefresh string) error {
	if hashedRefresh == "" {
		return errors.New("save refresh slot: empty hash")
	}
	if err := s.tx.UpdateRefreshHash(ctx, userID, &hashedRefresh); err != nil {
		return fmt.Errorf("save refresh slot: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.tx.UpdateRefreshHash(ctx, userID, nil); err != nil {
		return fmt.Errorf("clear refresh slot: %w", err)
	}
	return nil
}

// Matches reports whether raw is the token whose hash occupies the slot. A
// missing identity or an empty slot never matches.
func (s *Store) Matches(ctx context.Context, userID int64, raw string) (bool, error) {
	identity, err := s.tx.GetIdentityByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load refresh slot: %w", err)
	}

	if !identity.HasRefreshSlot() {
		return false, nil
	}
	return s.verifier.VerifyTokenHash(raw, *identity.RefreshHash), nil
}
