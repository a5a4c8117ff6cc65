package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

// ciphertextPrefix marks a stored value as encrypted by this service. The
// version suffix leaves room for a future format change without guessing.
const ciphertextPrefix = "fsv1:"

var _ domain.CryptoService = (*Service)(nil)

// Service implements the migration crypto service on an AES-256-GCM
// keyring. Ciphertext is transported as prefix + base64 so encrypted and
// plaintext values are distinguishable in place, which keeps both Encrypt
// and Decrypt idempotent across repeated migration runs.
type Service struct {
	keyring *Keyring

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a crypto Service over the given keyring.
func NewService(keyring *Keyring, logger *logger.Logger, tracer trace.Tracer) *Service {
	logger = logger.With("component", "crypto_service")
	return &Service{keyring: keyring, logger: logger, tracer: tracer}
}

// Encrypt seals a plaintext value under the named key. Empty values and
// values already carrying the ciphertext prefix are returned unchanged.
func (s *Service) Encrypt(ctx context.Context, plaintext string, ref domain.KeyRef) (string, error) {
	_, span := s.tracer.Start(ctx, "crypto.encrypt",
		trace.WithAttributes(attribute.String("key_ref", string(ref))),
	)
	defer span.End()

	if plaintext == "" || strings.HasPrefix(plaintext, ciphertextPrefix) {
		return plaintext, nil
	}

	profile, err := s.keyring.profile(ref)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	sealed, err := profile.seal([]byte(plaintext))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("sealing value: %w", err)
	}

	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext value under the named key. Empty values and
// values without the ciphertext prefix are returned unchanged.
func (s *Service) Decrypt(ctx context.Context, ciphertext string, ref domain.KeyRef) (string, error) {
	_, span := s.tracer.Start(ctx, "crypto.decrypt",
		trace.WithAttributes(attribute.String("key_ref", string(ref))),
	)
	defer span.End()

	if ciphertext == "" || !strings.HasPrefix(ciphertext, ciphertextPrefix) {
		return ciphertext, nil
	}

	profile, err := s.keyring.profile(ref)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, ciphertextPrefix))
	if err != nil {
		span.RecordError(err)
		return "", &DecryptFailedError{Inner: fmt.Errorf("decoding ciphertext: %w", err)}
	}

	plaintext, err := profile.open(raw)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	return string(plaintext), nil
}
