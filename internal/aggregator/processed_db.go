package aggregator

import (
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ProcessedDb tracks transaction hashes that already produced a published
// notification, so webhook redeliveries and overlapping drains stay silent.
// Entries expire after the configured TTL to keep the set bounded.
type ProcessedDb interface {
	IsProcessed(txHash string) bool
	MarkProcessed(txHash string) error
}

func NewProcessedDb(db *badger.DB, ttl time.Duration) ProcessedDb {
	return &ProcessedDbImpl{db: db, ttl: ttl}
}

type ProcessedDbImpl struct {
	mu  sync.RWMutex
	db  *badger.DB
	ttl time.Duration
}

const processedTxPrefix = "sales:processed:"

func (p *ProcessedDbImpl) IsProcessed(txHash string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(processedTxKey(txHash))
		return err
	})
	return err == nil
}

func (p *ProcessedDbImpl) MarkProcessed(txHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(processedTxKey(txHash), []byte{1})
		if p.ttl > 0 {
			entry = entry.WithTTL(p.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func processedTxKey(txHash string) []byte {
	return []byte(processedTxPrefix + strings.ToLower(txHash))
}
