package eth

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nftpulse/nftpulse/internal/eth/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewExample())
}

var testContract = common.HexToAddress("0x4444444444444444444444444444444444444444")

type stubPriceResolver struct {
	mu     sync.Mutex
	prices map[string]*big.Int
	calls  int
}

func newStubPriceResolver() *stubPriceResolver {
	return &stubPriceResolver{prices: make(map[string]*big.Int)}
}

func (s *stubPriceResolver) setPrice(txHash common.Hash, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToLower(txHash.Hex())] = big.NewInt(amount)
}

func (s *stubPriceResolver) ResolvePrice(_ context.Context, txHash common.Hash, _ string, _ string) (*big.Int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if amount, ok := s.prices[strings.ToLower(txHash.Hex())]; ok {
		return amount, true
	}
	return big.NewInt(0), false
}

func (s *stubPriceResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func makeScanTxHash(n int) common.Hash {
	h := common.Hash{}
	h[30] = byte(n >> 8)
	h[31] = byte(n)
	return h
}

func makeTransferLog(
	blockNumber uint64,
	txIndex uint,
	logIndex uint,
	txHash common.Hash,
	from common.Address,
	to common.Address,
	tokenId int64,
) types.Log {
	return types.Log{
		Address: testContract,
		Topics: []common.Hash{
			erc721TransferSig,
			addressToTopic(from),
			addressToTopic(to),
			common.BigToHash(big.NewInt(tokenId)),
		},
		BlockNumber: blockNumber,
		TxHash:      txHash,
		TxIndex:     txIndex,
		Index:       logIndex,
	}
}

// Matcher pinning a FilterLogs call to one exact chunk range.
func filterWithRange(fromBlock, toBlock uint64) interface{} {
	return mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.FromBlock != nil && q.ToBlock != nil &&
			q.FromBlock.Uint64() == fromBlock && q.ToBlock.Uint64() == toBlock
	})
}

func TestDefaultSalesScanner(t *testing.T) {
	t.Run("TestFirstChunkSatisfiesCount", testScanFirstChunkSatisfiesCount)
	t.Run("TestScanSpansChunks", testScanSpansChunks)
	t.Run("TestMintAndBurnSkipped", testScanMintAndBurnSkipped)
	t.Run("TestZeroPriceDropped", testScanZeroPriceDropped)
	t.Run("TestSweepCollapsesToOneEvent", testScanSweepCollapsesToOneEvent)
	t.Run("TestEmptyRange", testScanEmptyRange)
	t.Run("TestHeadLookupFailure", testScanHeadLookupFailure)
	t.Run("TestChunkFailureAdvances", testScanChunkFailureAdvances)
	t.Run("TestCandidateCap", testScanCandidateCap)
	t.Run("TestNearGenesis", testScanNearGenesis)
}

func testScanFirstChunkSatisfiesCount(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	txRecent := makeScanTxHash(1)
	txOlder := makeScanTxHash(2)
	resolver.setPrice(txRecent, 200)
	resolver.setPrice(txOlder, 100)

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).Return([]types.Log{
		makeTransferLog(9950, 1, 0, txOlder, testSeller, testBuyer, 9),
		makeTransferLog(9990, 3, 0, txRecent, testSeller, testBuyer, 7),
	}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Len(t, events, 1)
	assert.Equal(t, strings.ToLower(txRecent.Hex()), events[0].TxHash)
	assert.Equal(t, uint64(9990), events[0].BlockNumber)
	assert.Equal(t, []string{"7"}, events[0].TokenIDs)
	assert.Equal(t, big.NewInt(200), events[0].TotalPrice)
	assert.True(t, events[0].IsWrapped)
	client.AssertExpectations(t)
}

func testScanSpansChunks(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	txRecent := makeScanTxHash(3)
	txOld := makeScanTxHash(4)
	resolver.setPrice(txRecent, 500)
	resolver.setPrice(txOld, 400)

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).Return([]types.Log{
		makeTransferLog(9990, 3, 0, txRecent, testSeller, testBuyer, 7),
	}, nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(4001, 7000)).Return([]types.Log{
		makeTransferLog(6500, 0, 0, txOld, testSeller, testBuyer, 12),
	}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 2)

	assert.Len(t, events, 2)
	assert.Equal(t, strings.ToLower(txRecent.Hex()), events[0].TxHash)
	assert.Equal(t, strings.ToLower(txOld.Hex()), events[1].TxHash)
	client.AssertExpectations(t)
}

func testScanMintAndBurnSkipped(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	txMint := makeScanTxHash(5)
	txBurn := makeScanTxHash(6)
	txSale := makeScanTxHash(7)
	resolver.setPrice(txMint, 100)
	resolver.setPrice(txBurn, 100)
	resolver.setPrice(txSale, 100)

	zero := common.Address{}
	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).Return([]types.Log{
		makeTransferLog(9999, 0, 0, txMint, zero, testBuyer, 1),
		makeTransferLog(9998, 0, 0, txBurn, testSeller, zero, 2),
		makeTransferLog(9997, 0, 0, txSale, testSeller, testBuyer, 3),
	}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Len(t, events, 1)
	assert.Equal(t, strings.ToLower(txSale.Hex()), events[0].TxHash)
	assert.Equal(t, 1, resolver.callCount())
	client.AssertExpectations(t)
}

func testScanZeroPriceDropped(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	txPriced := makeScanTxHash(8)
	txFree := makeScanTxHash(9)
	resolver.setPrice(txPriced, 777)

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).Return([]types.Log{
		makeTransferLog(9990, 1, 0, txFree, testSeller, testBuyer, 1),
		makeTransferLog(9980, 1, 0, txPriced, testSeller, testBuyer, 2),
	}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Len(t, events, 1)
	assert.Equal(t, strings.ToLower(txPriced.Hex()), events[0].TxHash)
	assert.Equal(t, big.NewInt(777), events[0].TotalPrice)
	client.AssertExpectations(t)
}

func testScanSweepCollapsesToOneEvent(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	txSweep := makeScanTxHash(10)
	txSingle := makeScanTxHash(11)
	resolver.setPrice(txSweep, 300)
	resolver.setPrice(txSingle, 100)

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).Return([]types.Log{
		makeTransferLog(9990, 3, 0, txSweep, testSeller, testBuyer, 5),
		makeTransferLog(9990, 3, 1, txSweep, testSeller, testBuyer, 6),
		makeTransferLog(9990, 3, 2, txSweep, testSeller, testBuyer, 7),
		makeTransferLog(9980, 1, 0, txSingle, testSeller, testBuyer, 12),
	}, nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(4001, 7000)).Return([]types.Log{}, nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(1001, 4000)).Return([]types.Log{}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 5)

	assert.Len(t, events, 2)
	assert.Equal(t, strings.ToLower(txSweep.Hex()), events[0].TxHash)
	assert.Equal(t, []string{"5"}, events[0].TokenIDs)
	assert.Equal(t, strings.ToLower(txSingle.Hex()), events[1].TxHash)
	assert.Equal(t, 4, resolver.callCount())
	client.AssertExpectations(t)
}

func testScanEmptyRange(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, mock.Anything).Return([]types.Log{}, nil).Times(3)

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Empty(t, events)
	assert.Equal(t, 0, resolver.callCount())
	client.AssertExpectations(t)
}

func testScanHeadLookupFailure(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	client.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("node down")).Once()

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Empty(t, events)
	client.AssertExpectations(t)
}

func testScanChunkFailureAdvances(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	txOld := makeScanTxHash(12)
	resolver.setPrice(txOld, 250)

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).
		Return(nil, errors.New("range too large")).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(4001, 7000)).Return([]types.Log{
		makeTransferLog(6000, 2, 0, txOld, testSeller, testBuyer, 42),
	}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Len(t, events, 1)
	assert.Equal(t, strings.ToLower(txOld.Hex()), events[0].TxHash)
	client.AssertExpectations(t)
}

func testScanCandidateCap(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	var logs []types.Log
	for i := 0; i < 120; i++ {
		txHash := makeScanTxHash(1000 + i)
		resolver.setPrice(txHash, 10)
		logs = append(logs, makeTransferLog(uint64(8000+i), 0, 0, txHash, testSeller, testBuyer, int64(i)))
	}

	client.On("BlockNumber", mock.Anything).Return(uint64(10000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(7001, 10000)).Return(logs, nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(4001, 7000)).Return([]types.Log{}, nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(1001, 4000)).Return([]types.Log{}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 150)

	assert.Len(t, events, 100)
	assert.Equal(t, 100, resolver.callCount())
	assert.Equal(t, uint64(8119), events[0].BlockNumber)
	assert.Equal(t, uint64(8020), events[99].BlockNumber)
	client.AssertExpectations(t)
}

func testScanNearGenesis(t *testing.T) {
	client := new(mocks.EthClient)
	resolver := newStubPriceResolver()
	scanner := NewDefaultSalesScanner(client, resolver, testContract)

	client.On("BlockNumber", mock.Anything).Return(uint64(1000), nil).Once()
	client.On("FilterLogs", mock.Anything, filterWithRange(0, 1000)).Return([]types.Log{}, nil).Once()

	events := scanner.ScanRecentSales(context.Background(), 1)

	assert.Empty(t, events)
	client.AssertExpectations(t)
}
