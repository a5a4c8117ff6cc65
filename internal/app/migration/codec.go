package migration

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
	"github.com/fieldsafe/fieldsafe/pkg/common/logger"
)

// RowCodec converts one row's stored field values for a given operation,
// delegating the actual cryptography to the crypto service. It is a pure
// transform: it never touches storage.
type RowCodec struct {
	crypto domain.CryptoService

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRowCodec creates a RowCodec backed by the provided crypto service.
func NewRowCodec(crypto domain.CryptoService, logger *logger.Logger, tracer trace.Tracer) *RowCodec {
	logger = logger.With("component", "row_codec")
	return &RowCodec{crypto: crypto, logger: logger, tracer: tracer}
}

// Transform applies the operation's crypto transform to both identity
// fields of a row and reports only the fields whose value actually changed.
//
// Failure handling is fail-open per field: when the crypto service rejects
// one field, that field is dropped from the changes and the other field is
// still considered on its own. A row where nothing changed produces empty
// changes, which the updater treats as a no-op.
func (c *RowCodec) Transform(ctx context.Context, row domain.UserRow, op domain.Operation) domain.FieldChanges {
	ctx, span := c.tracer.Start(ctx, "row_codec.transform",
		trace.WithAttributes(
			attribute.String("user_id", row.ID().String()),
			attribute.String("operation", op.String()),
		),
	)
	defer span.End()

	var changes domain.FieldChanges

	if v, ok := c.transformField(ctx, row.ID().String(), "email", row.Email(), op); ok && v != row.Email() {
		changes.Email = &v
	}
	if v, ok := c.transformField(ctx, row.ID().String(), "phone", row.Phone(), op); ok && v != row.Phone() {
		changes.Phone = &v
	}

	return changes
}

func (c *RowCodec) transformField(ctx context.Context, userID, field, value string, op domain.Operation) (string, bool) {
	out, err := c.applyOperation(ctx, value, op)
	if err != nil {
		// Fail-open: the field keeps its stored value and is not reported
		// as a change.
		c.logger.Warn(ctx, "field transform failed, leaving value unchanged",
			"user_id", userID,
			"field", field,
			"operation", op.String(),
			"error", err,
		)
		return "", false
	}
	return out, true
}

func (c *RowCodec) applyOperation(ctx context.Context, value string, op domain.Operation) (string, error) {
	switch op {
	case domain.OperationEncrypt:
		return c.crypto.Encrypt(ctx, value, domain.KeyRefCurrent)
	case domain.OperationDecrypt:
		return c.crypto.Decrypt(ctx, value, domain.KeyRefCurrent)
	case domain.OperationChange:
		// The stored value is still ciphertext under the key being retired.
		// Re-encryption under the new key is a separate encrypt pass.
		return c.crypto.Decrypt(ctx, value, domain.KeyRefPrevious)
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidOperation, op)
	}
}
