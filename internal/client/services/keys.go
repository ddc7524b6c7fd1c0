// Package services contains the client's application services: unlocking
// the archive key from a passphrase and running sync sessions.
package services

import (
	"context"
	"crypto/subtle"

	"github.com/dmitrijs2005/blocksync/internal/client/client"
	"github.com/dmitrijs2005/blocksync/internal/common"
	"github.com/dmitrijs2005/blocksync/internal/cryptox"
	"github.com/dmitrijs2005/blocksync/internal/ledger"
)

const (
	metaSalt      = "salt"
	metaVerifier  = "verifier"
	metaArchiveID = "archive_id"
)

// KeyService turns a passphrase into the archive key. The salt and a
// verifier of the key are kept in the state database; the key is not.
type KeyService struct {
	ledger *ledger.Ledger
}

func NewKeyService(l *ledger.Ledger) *KeyService {
	return &KeyService{ledger: l}
}

// Unlock derives the key. On first use it creates the salt and records the
// verifier; afterwards a passphrase producing another key is rejected with
// client.ErrUnauthorized.
func (s *KeyService) Unlock(ctx context.Context, passphrase []byte) ([]byte, error) {
	salt, err := s.ledger.Metadata(ctx, metaSalt)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt = common.GenerateRandByteArray(cryptox.SaltSize)
		if err := s.ledger.SetMetadata(ctx, metaSalt, salt); err != nil {
			return nil, err
		}
	}

	key := cryptox.DeriveMasterKey(passphrase, salt)
	verifier := cryptox.MakeVerifier(key)

	saved, err := s.ledger.Metadata(ctx, metaVerifier)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		if err := s.ledger.SetMetadata(ctx, metaVerifier, verifier); err != nil {
			return nil, err
		}
		return key, nil
	}
	if subtle.ConstantTimeCompare(saved, verifier) != 1 {
		return nil, client.ErrUnauthorized
	}
	return key, nil
}
