package migration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

func newTestCodec(crypto domain.CryptoService) *RowCodec {
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewRowCodec(crypto, logger.Noop(), tracer)
}

func TestRowCodecTransformEncrypt(t *testing.T) {
	codec := newTestCodec(&stubCrypto{})
	row := domain.NewUserRow(uuid.New(), "user@example.com", "+15550100")

	changes := codec.Transform(context.Background(), row, domain.OperationEncrypt)

	require.False(t, changes.Empty())
	require.NotNil(t, changes.Email)
	require.NotNil(t, changes.Phone)
	require.Equal(t, "enc:user@example.com", *changes.Email)
	require.Equal(t, "enc:+15550100", *changes.Phone)
}

func TestRowCodecTransformReportsOnlyChangedFields(t *testing.T) {
	codec := newTestCodec(&stubCrypto{})
	// Email already carries the stub's ciphertext form; a second encrypt
	// leaves it as is and only the phone changes.
	row := domain.NewUserRow(uuid.New(), "enc:user@example.com", "+15550100")

	changes := codec.Transform(context.Background(), row, domain.OperationEncrypt)

	require.Nil(t, changes.Email)
	require.NotNil(t, changes.Phone)
}

func TestRowCodecTransformNoOpProducesEmptyChanges(t *testing.T) {
	codec := newTestCodec(&stubCrypto{})
	// Decrypting plaintext is a pass-through in the stub, so nothing changes.
	row := domain.NewUserRow(uuid.New(), "user@example.com", "+15550100")

	changes := codec.Transform(context.Background(), row, domain.OperationDecrypt)
	require.True(t, changes.Empty())
}

func TestRowCodecTransformFailOpenPerField(t *testing.T) {
	codec := newTestCodec(&stubCrypto{failToken: "@"})
	row := domain.NewUserRow(uuid.New(), "user@example.com", "+15550100")

	changes := codec.Transform(context.Background(), row, domain.OperationEncrypt)

	// The failing email is dropped from the changes; the phone is still
	// transformed on its own.
	require.Nil(t, changes.Email)
	require.NotNil(t, changes.Phone)
	require.Equal(t, "enc:+15550100", *changes.Phone)
}

func TestRowCodecTransformInvalidOperation(t *testing.T) {
	codec := newTestCodec(&stubCrypto{})
	row := domain.NewUserRow(uuid.New(), "user@example.com", "+15550100")

	changes := codec.Transform(context.Background(), row, domain.Operation("rotate"))
	require.True(t, changes.Empty())
}
