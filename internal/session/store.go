package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/kjannette/tethra-tap/internal/models"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store persists at most one session key per trader.
type Store interface {
	Load(trader string) (*models.SessionKey, error)
	Save(key *models.SessionKey) error
	Delete(trader string) error
}

type sessionRecord struct {
	Trader        string `gorm:"primaryKey"`
	Address       string `gorm:"not null"`
	PrivateKey    string `gorm:"not null"`
	ExpiresAt     int64  `gorm:"not null"`
	AuthSignature string `gorm:"not null"`
	CreatedAt     int64  `gorm:"autoCreateTime:false"`
}

func (sessionRecord) TableName() string { return "session_keys" }

// SQLiteStore keeps session keys in a local SQLite file so a restarted
// client (or a second process on the same file) can pick them up.
type SQLiteStore struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(trader string) (*models.SessionKey, error) {
	var rec sessionRecord
	err := s.db.First(&rec, "trader = ?", strings.ToLower(trader)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.SessionKey{
		PrivateKey:    rec.PrivateKey,
		Address:       rec.Address,
		ExpiresAt:     rec.ExpiresAt,
		AuthorizedBy:  rec.Trader,
		AuthSignature: rec.AuthSignature,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func (s *SQLiteStore) Save(key *models.SessionKey) error {
	return s.db.Save(&sessionRecord{
		Trader:        strings.ToLower(key.AuthorizedBy),
		Address:       key.Address,
		PrivateKey:    key.PrivateKey,
		ExpiresAt:     key.ExpiresAt,
		AuthSignature: key.AuthSignature,
		CreatedAt:     key.CreatedAt,
	}).Error
}

func (s *SQLiteStore) Delete(trader string) error {
	return s.db.Where("trader = ?", strings.ToLower(trader)).Delete(&sessionRecord{}).Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]models.SessionKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]models.SessionKey)}
}

func (s *MemoryStore) Load(trader string) (*models.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[strings.ToLower(trader)]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (s *MemoryStore) Save(key *models.SessionKey) error {
	s.mu.Lock()
	s.keys[strings.ToLower(key.AuthorizedBy)] = *key
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(trader string) error {
	s.mu.Lock()
	delete(s.keys, strings.ToLower(trader))
	s.mu.Unlock()
	return nil
}
