package crypto

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/fieldsafe/fieldsafe/internal/domain/migration"
)

var _ domain.KeyRepository = (*Keyring)(nil)

// Keyring holds the encryption profiles addressed by the key references.
// The current slot is always populated; the previous slot exists only
// during a key rotation window and is retired by the finalizer once the
// rotation's decrypt pass succeeds.
type Keyring struct {
	mu       sync.RWMutex
	current  *aes256
	previous *aes256
}

// NewKeyring builds a keyring from raw key material. The previous key is
// optional; pass nil outside a rotation window.
func NewKeyring(currentKey, previousKey []byte) (*Keyring, error) {
	current, err := newAES256(currentKey)
	if err != nil {
		return nil, fmt.Errorf("creating current key profile: %w", err)
	}

	kr := &Keyring{current: current}

	if len(previousKey) > 0 {
		previous, err := newAES256(previousKey)
		if err != nil {
			return nil, fmt.Errorf("creating previous key profile: %w", err)
		}
		kr.previous = previous
	}

	return kr, nil
}

// profile resolves a key reference to its cipher.
func (kr *Keyring) profile(ref domain.KeyRef) (*aes256, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	switch ref {
	case domain.KeyRefCurrent:
		return kr.current, nil
	case domain.KeyRefPrevious:
		if kr.previous == nil {
			return nil, fmt.Errorf("no previous key profile configured")
		}
		return kr.previous, nil
	default:
		return nil, fmt.Errorf("unknown key reference %q", ref)
	}
}

// DeletePreviousProfile retires the previous encryption profile. Dropping
// the key drops the profile with it.
func (kr *Keyring) DeletePreviousProfile(ctx context.Context) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	if kr.previous == nil {
		return fmt.Errorf("no previous key profile to delete")
	}
	kr.previous = nil
	return nil
}

// CurrentKeyLocation returns an operator-facing locator for the current key.
func (kr *Keyring) CurrentKeyLocation() string {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return fmt.Sprintf("keyring://profiles/%s", kr.current.hexDigest()[:16])
}
