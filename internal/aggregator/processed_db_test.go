package aggregator

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewExample())
}

func setupTestInMemoryDB(t *testing.T) *badger.DB {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestProcessedDb(t *testing.T) {
	t.Run("MarkAndCheck", testProcessedDbMarkAndCheck)
	t.Run("CaseInsensitive", testProcessedDbCaseInsensitive)
	t.Run("EntriesExpire", testProcessedDbEntriesExpire)
}

func testProcessedDbMarkAndCheck(t *testing.T) {
	processed := NewProcessedDb(setupTestInMemoryDB(t), time.Hour)

	assert.False(t, processed.IsProcessed("0xabc123"))
	require.NoError(t, processed.MarkProcessed("0xabc123"))
	assert.True(t, processed.IsProcessed("0xabc123"))
	assert.False(t, processed.IsProcessed("0xdef456"))
}

func testProcessedDbCaseInsensitive(t *testing.T) {
	processed := NewProcessedDb(setupTestInMemoryDB(t), time.Hour)

	require.NoError(t, processed.MarkProcessed("0xABCDEF"))
	assert.True(t, processed.IsProcessed("0xabcdef"))
	assert.True(t, processed.IsProcessed("0xAbCdEf"))
}

func testProcessedDbEntriesExpire(t *testing.T) {
	processed := NewProcessedDb(setupTestInMemoryDB(t), 50*time.Millisecond)

	require.NoError(t, processed.MarkProcessed("0xabc123"))
	assert.True(t, processed.IsProcessed("0xabc123"))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, processed.IsProcessed("0xabc123"))
}
