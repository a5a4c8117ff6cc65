package migration_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/domain/migration"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    migration.Operation
		wantErr bool
	}{
		{name: "encrypt", input: "encrypt", want: migration.OperationEncrypt},
		{name: "decrypt", input: "decrypt", want: migration.OperationDecrypt},
		{name: "change", input: "change", want: migration.OperationChange},
		{name: "unknown value", input: "rotate", wantErr: true},
		{name: "empty value", input: "", wantErr: true},
		{name: "case sensitive", input: "Encrypt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := migration.ParseOperation(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, migration.ErrInvalidOperation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, op)
		})
	}
}

func TestParseContext(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    migration.InvocationContext
		wantErr bool
	}{
		{name: "none", input: "none", want: migration.ContextNone},
		{name: "uninstall", input: "uninstall", want: migration.ContextUninstall},
		{name: "change", input: "change", want: migration.ContextChange},
		{name: "unknown value", input: "reinstall", wantErr: true},
		{name: "empty value", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invCtx, err := migration.ParseContext(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, migration.ErrInvalidContext)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, invCtx)
		})
	}
}

func TestOperationSourceKey(t *testing.T) {
	require.Equal(t, migration.KeyRefCurrent, migration.OperationEncrypt.SourceKey())
	require.Equal(t, migration.KeyRefCurrent, migration.OperationDecrypt.SourceKey())
	require.Equal(t, migration.KeyRefPrevious, migration.OperationChange.SourceKey())
}
