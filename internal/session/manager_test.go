package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kjannette/tethra-tap/internal/logger"
)

type testWallet struct {
	key    *ecdsa.PrivateKey
	calls  int
	reject bool
}

func newTestWallet(t *testing.T) *testWallet {
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &testWallet{key: k}
}

func (w *testWallet) Address() common.Address { return crypto.PubkeyToAddress(w.key.PublicKey) }

func (w *testWallet) PersonalSign(_ context.Context, msg []byte) ([]byte, error) {
	w.calls++
	if w.reject {
		return nil, errors.New("user rejected request")
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), w.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newManager(store Store) (*Manager, *fixedClock) {
	clock := &fixedClock{t: time.UnixMilli(1700000000000)}
	m := NewManager(store, logger.Discard())
	m.SetClock(clock.now)
	return m, clock
}

func TestCreate_AuthorizesOnce(t *testing.T) {
	m, _ := newManager(NewMemoryStore())
	w := newTestWallet(t)

	key, err := m.Create(context.Background(), w, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if w.calls != 1 {
		t.Fatalf("expected exactly one wallet prompt, got %d", w.calls)
	}
	if key.PrivateKey != "" {
		t.Fatal("returned session must not expose the private key")
	}
	if key.AuthorizedBy != strings.ToLower(w.Address().Hex()) {
		t.Fatalf("authorizedBy should be the lower-cased trader, got %s", key.AuthorizedBy)
	}
	if key.ExpiresAt != 1700000000000+30*60*1000 {
		t.Fatalf("unexpected expiry %d", key.ExpiresAt)
	}

	signer, err := VerifyAuthorization(key)
	if err != nil {
		t.Fatal(err)
	}
	if signer != w.Address() {
		t.Fatalf("authorization recovered %s, want %s", signer.Hex(), w.Address().Hex())
	}

	for i := 0; i < 5; i++ {
		if _, err := m.Sign(crypto.Keccak256([]byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
	}
	if w.calls != 1 {
		t.Fatalf("session signing must not prompt the wallet, got %d prompts", w.calls)
	}
}

func TestCreate_WalletRejection(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newManager(store)
	w := newTestWallet(t)
	w.reject = true

	if _, err := m.Create(context.Background(), w, time.Minute); err == nil {
		t.Fatal("expected error on wallet rejection")
	}
	if m.Valid() {
		t.Fatal("no session should be held after rejection")
	}
	if k, _ := store.Load(w.Address().Hex()); k != nil {
		t.Fatal("nothing should be persisted after rejection")
	}
}

func TestSign_RecoversSessionAddress(t *testing.T) {
	m, _ := newManager(NewMemoryStore())
	w := newTestWallet(t)
	key, err := m.Create(context.Background(), w, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	hash := crypto.Keccak256([]byte("order"))
	sig, err := m.Sign(hash)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("expected v in {27,28}, got %d", sig[64])
	}
	got, err := RecoverPersonal(hash, sig)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hex() != key.Address {
		t.Fatalf("recovered %s, want %s", got.Hex(), key.Address)
	}
}

func TestSign_Expired(t *testing.T) {
	store := NewMemoryStore()
	m, clock := newManager(store)
	w := newTestWallet(t)
	key, err := m.Create(context.Background(), w, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	clock.t = time.UnixMilli(key.ExpiresAt - 1)
	if !m.Valid() {
		t.Fatal("session should be valid 1ms before expiry")
	}

	clock.t = time.UnixMilli(key.ExpiresAt)
	if _, err := m.Sign(make([]byte, 32)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if m.Valid() {
		t.Fatal("expired session must be evicted")
	}
	if k, _ := store.Load(w.Address().Hex()); k != nil {
		t.Fatal("expired session must be removed from the store")
	}
	if _, err := m.Sign(make([]byte, 32)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after eviction, got %v", err)
	}
}

func TestSign_ExpiresAtInPast(t *testing.T) {
	store := NewMemoryStore()
	m, clock := newManager(store)
	w := newTestWallet(t)
	key, _ := m.Create(context.Background(), w, time.Minute)

	clock.t = time.UnixMilli(key.ExpiresAt + 1)
	if _, err := m.Sign(make([]byte, 32)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestSign_NoSession(t *testing.T) {
	m, _ := newManager(NewMemoryStore())
	if _, err := m.Sign(make([]byte, 32)); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Fatal("Current should report no session")
	}
	if _, err := m.Authorization(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestClear(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newManager(store)
	w := newTestWallet(t)
	if _, err := m.Create(context.Background(), w, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	if m.Valid() {
		t.Fatal("session should be gone after Clear")
	}
	if k, _ := store.Load(w.Address().Hex()); k != nil {
		t.Fatal("store should be empty after Clear")
	}
}

func TestRestore_SQLiteAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	first, _ := newManager(store)
	w := newTestWallet(t)
	key, err := first.Create(context.Background(), w, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	other, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	second, clock := newManager(other)

	ok, err := second.Restore(w.Address().Hex())
	if err != nil || !ok {
		t.Fatalf("expected restore to succeed: ok=%v err=%v", ok, err)
	}
	cur, _ := second.Current()
	if cur.Address != key.Address {
		t.Fatalf("restored %s, want %s", cur.Address, key.Address)
	}

	hash := crypto.Keccak256([]byte("bet"))
	sig, err := second.Sign(hash)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := RecoverPersonal(hash, sig); got.Hex() != key.Address {
		t.Fatalf("restored key signs as %s, want %s", got.Hex(), key.Address)
	}

	// a later restart past expiry evicts the record
	clock.t = time.UnixMilli(key.ExpiresAt + 1000)
	third := NewManager(other, logger.Discard())
	third.SetClock(clock.now)
	ok, err = third.Restore(w.Address().Hex())
	if err != nil || ok {
		t.Fatalf("expired session should not restore: ok=%v err=%v", ok, err)
	}
	if k, _ := other.Load(w.Address().Hex()); k != nil {
		t.Fatal("expired session should be deleted on restore")
	}
}
