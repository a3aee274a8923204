package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
)

// checksumLen is the number of hex characters of the material's
// sha256 that identify a key without disclosing it
const checksumLen = 16

// ViewingKey is a registered auditor viewing key. The raw material is
// held privately and never leaves the service; exports carry only the
// checksum.
type ViewingKey struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	RegisteredAt time.Time `json:"registered_at"`

	material []byte
}

// Checksum returns the key's public fingerprint
func (k *ViewingKey) Checksum() string {
	sum := sha256.Sum256(k.material)
	return hex.EncodeToString(sum[:])[:checksumLen]
}

// ExportedKey is the disclosure-safe form of a registered key
type ExportedKey struct {
	KeyID     string    `json:"key_id"`
	Type      string    `json:"type"`
	Checksum  string    `json:"checksum"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KeyBundle packages every registered key for handoff to an auditor.
// Digest commits to the exact set and order of checksums.
type KeyBundle struct {
	BundleID    uuid.UUID     `json:"bundle_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Keys        []ExportedKey `json:"keys"`
	Digest      string        `json:"digest"`
}

// RegisterViewingKey stores key material under the given id and
// records a key-lifecycle event. Re-registering an existing id is a
// conflict.
func (s *Service) RegisterViewingKey(id, keyType string, material []byte) (*ViewingKey, error) {
	if id == "" {
		return nil, errors.NewValidationError("INVALID_KEY_ID", "viewing key id must not be empty")
	}
	if len(material) == 0 {
		return nil, errors.NewValidationError("INVALID_KEY_MATERIAL", "viewing key material must not be empty")
	}

	key := &ViewingKey{
		ID:           id,
		Type:         keyType,
		RegisteredAt: s.now(),
		material:     append([]byte(nil), material...),
	}

	s.mu.Lock()
	if _, exists := s.keys[id]; exists {
		s.mu.Unlock()
		return nil, errors.NewConflictError(fmt.Sprintf("viewing key %s already registered", id))
	}
	s.keys[id] = key
	s.mu.Unlock()

	s.logger.Info("viewing key registered",
		zap.String("key_id", id),
		zap.String("key_type", keyType),
		zap.String("checksum", key.Checksum()),
	)

	if s.ledger != nil {
		_, err := s.ledger.Append(auditsvc.Entry{
			Type:     audit.EventKeyLifecycle,
			Severity: audit.SeverityInfo,
			Metadata: map[string]interface{}{
				"action":   "registered",
				"key_id":   id,
				"key_type": keyType,
				"checksum": key.Checksum(),
			},
		})
		if err != nil {
			s.logger.Error("failed to record key-lifecycle event", zap.Error(err))
		}
	}

	exported := *key
	exported.material = nil
	return &exported, nil
}

// ExportViewingKeys bundles every registered key for an auditor,
// requestedBy identifying the operator. Every export is itself a
// sensitive act and lands in the ledger at WARNING severity.
func (s *Service) ExportViewingKeys(requestedBy string) (*KeyBundle, error) {
	s.mu.RLock()
	keys := make([]*ViewingKey, 0, len(s.keys))
	for _, k := range s.keys {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	if len(keys) == 0 {
		return nil, errors.NewNotFoundError("viewing keys")
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })

	now := s.now()
	expiresAt := now.Add(s.cfg.KeyValidity)

	bundle := &KeyBundle{
		BundleID:    uuid.New(),
		GeneratedAt: now,
		ExpiresAt:   expiresAt,
		Keys:        make([]ExportedKey, 0, len(keys)),
	}

	var checksums strings.Builder
	for _, k := range keys {
		checksum := k.Checksum()
		checksums.WriteString(checksum)
		bundle.Keys = append(bundle.Keys, ExportedKey{
			KeyID:     k.ID,
			Type:      k.Type,
			Checksum:  checksum,
			ExpiresAt: expiresAt,
		})
	}
	digest := sha256.Sum256([]byte(checksums.String()))
	bundle.Digest = hex.EncodeToString(digest[:])

	if s.ledger != nil {
		_, err := s.ledger.Append(auditsvc.Entry{
			Type:     audit.EventViewingKeyExported,
			Severity: audit.SeverityWarning,
			UserID:   requestedBy,
			Metadata: map[string]interface{}{
				"bundle_id":  bundle.BundleID.String(),
				"key_count":  len(bundle.Keys),
				"digest":     bundle.Digest,
				"expires_at": expiresAt.Format(time.RFC3339),
			},
		})
		if err != nil {
			s.logger.Error("failed to record viewing-key-exported event", zap.Error(err))
		}
	}

	s.logger.Warn("viewing keys exported",
		zap.String("bundle_id", bundle.BundleID.String()),
		zap.Int("key_count", len(bundle.Keys)),
		zap.String("requested_by", requestedBy),
	)

	return bundle, nil
}

// RegisteredKeyCount reports how many viewing keys are held
func (s *Service) RegisteredKeyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
