package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"xmtp-legacy/services/keys/internal/domain"
	"xmtp-legacy/services/keys/internal/dto"
	"xmtp-legacy/services/keys/internal/store"
	"xmtp-legacy/services/messages/pkg/envelope"

	"github.com/ethereum/go-ethereum/common"
)

type Service struct {
	store *store.Store
}

func New(store *store.Store) *Service {
	return &Service{store: store}
}

// PublishContact verifies a contact bundle and records it for its signing
// wallet. An older bundle than the stored one leaves the directory unchanged
// and the stored bundle is returned.
func (s *Service) PublishContact(ctx context.Context, req dto.PublishContactRequest) (dto.ContactResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(req.Bundle)
	if err != nil || len(raw) == 0 {
		return dto.ContactResponse{}, fmt.Errorf("%w: bundle must be base64", ErrInvalidRequest)
	}
	bundle, err := envelope.UnmarshalContactBundle(raw)
	if err != nil {
		return dto.ContactResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := bundle.Verify(); err != nil {
		return dto.ContactResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	address, err := bundle.WalletAddress()
	if err != nil {
		return dto.ContactResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	legacy, err := bundle.LegacyBundle()
	if err != nil {
		return dto.ContactResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	row := domain.ContactBundle{
		Address:     address,
		Version:     bundleVersion(bundle),
		Bundle:      raw,
		IdentityKey: hex.EncodeToString(legacy.IdentityKey.Secp256k1Uncompressed),
		CreatedNs:   int64(legacy.PreKey.Timestamp) * 1_000_000,
	}

	var (
		stored  bool
		current *domain.ContactBundle
	)
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		stored, err = tx.Contacts().UpsertIfNewer(ctx, row)
		if err != nil {
			return err
		}
		current, err = tx.Contacts().Get(ctx, address)
		return err
	})
	if err != nil {
		return dto.ContactResponse{}, err
	}
	resp := toResponse(current)
	resp.Stored = stored
	return resp, nil
}

func (s *Service) LookupContact(ctx context.Context, address string) (dto.ContactResponse, error) {
	normalized, err := normalizeAddress(address)
	if err != nil {
		return dto.ContactResponse{}, err
	}
	row, err := s.store.Contacts().Get(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.ContactResponse{}, ErrNotFound
		}
		return dto.ContactResponse{}, err
	}
	return toResponse(row), nil
}

// DeleteContact drops the directory entry for address. Clients fall back to
// the contact topic afterwards.
func (s *Service) DeleteContact(ctx context.Context, address string) error {
	normalized, err := normalizeAddress(address)
	if err != nil {
		return err
	}
	n, err := s.store.Contacts().Delete(ctx, normalized)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: invalid address %q", ErrInvalidRequest, address)
	}
	return common.HexToAddress(address).Hex(), nil
}

func bundleVersion(b envelope.ContactBundle) int {
	if b.V2 != nil {
		return 2
	}
	return 1
}

func toResponse(row *domain.ContactBundle) dto.ContactResponse {
	return dto.ContactResponse{
		Address:   row.Address,
		Version:   row.Version,
		Bundle:    base64.StdEncoding.EncodeToString(row.Bundle),
		UpdatedAt: row.UpdatedAt,
	}
}
