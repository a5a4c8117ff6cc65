package crypto

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
)

func TestNewKeyringRejectsBadKeySize(t *testing.T) {
	_, err := NewKeyring(make([]byte, 16), nil)
	require.Error(t, err)

	_, err = NewKeyring(make([]byte, KeySize), make([]byte, 31))
	require.Error(t, err)
}

func TestKeyringDeletePreviousProfile(t *testing.T) {
	keyring, err := NewKeyring(randomKey(t), randomKey(t))
	require.NoError(t, err)

	_, err = keyring.profile(domain.KeyRefPrevious)
	require.NoError(t, err)

	require.NoError(t, keyring.DeletePreviousProfile(context.Background()))

	_, err = keyring.profile(domain.KeyRefPrevious)
	require.Error(t, err)

	// Deleting twice is an error: the profile is already gone.
	require.Error(t, keyring.DeletePreviousProfile(context.Background()))
}

func TestKeyringDeletePreviousProfileWithoutRotation(t *testing.T) {
	keyring, err := NewKeyring(randomKey(t), nil)
	require.NoError(t, err)
	require.Error(t, keyring.DeletePreviousProfile(context.Background()))
}

func TestKeyringCurrentKeyLocation(t *testing.T) {
	keyring, err := NewKeyring(randomKey(t), nil)
	require.NoError(t, err)

	loc := keyring.CurrentKeyLocation()
	require.True(t, strings.HasPrefix(loc, "keyring://profiles/"))
	// The locator identifies the key without exposing material.
	require.Len(t, strings.TrimPrefix(loc, "keyring://profiles/"), 16)
}

func TestKeyringUnknownReference(t *testing.T) {
	keyring, err := NewKeyring(randomKey(t), nil)
	require.NoError(t, err)

	_, err = keyring.profile(domain.KeyRef("stale"))
	require.Error(t, err)
}
