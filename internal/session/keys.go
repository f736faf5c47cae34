package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"yakkl-background/internal/clock"

	"golang.org/x/crypto/hkdf"
)

const (
	keyIDLayout = "2006-01-02"
	keySize     = 32
)

// KeyProvider supplies HMAC signing keys identified by a key id
type KeyProvider interface {
	SigningKey(ctx context.Context) (kid string, key []byte, err error)
	VerificationKey(ctx context.Context, kid string) ([]byte, error)
}

// DailyKeys derives one signing key per UTC day from a master secret.
// Keys from the previous MaxAge days still verify so tokens survive midnight.
type DailyKeys struct {
	secret []byte
	clock  clock.Clock
	MaxAge int
}

// NewDailyKeys creates a DailyKeys provider
func NewDailyKeys(secret string, c clock.Clock) (*DailyKeys, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}
	if c == nil {
		c = clock.Real()
	}
	return &DailyKeys{secret: []byte(secret), clock: c, MaxAge: 1}, nil
}

func (k *DailyKeys) SigningKey(ctx context.Context) (string, []byte, error) {
	kid := k.clock.Now().UTC().Format(keyIDLayout)
	key, err := k.derive(kid)
	if err != nil {
		return "", nil, err
	}
	return kid, key, nil
}

func (k *DailyKeys) VerificationKey(ctx context.Context, kid string) ([]byte, error) {
	day, err := time.Parse(keyIDLayout, kid)
	if err != nil {
		return nil, fmt.Errorf("malformed key id %q", kid)
	}

	today, _ := time.Parse(keyIDLayout, k.clock.Now().UTC().Format(keyIDLayout))
	age := int(today.Sub(day).Hours() / 24)
	if age < 0 || age > k.MaxAge {
		return nil, fmt.Errorf("key id %q outside verification window", kid)
	}

	return k.derive(kid)
}

func (k *DailyKeys) derive(kid string) ([]byte, error) {
	r := hkdf.New(sha256.New, k.secret, nil, []byte("yakkl-session:"+kid))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return key, nil
}
