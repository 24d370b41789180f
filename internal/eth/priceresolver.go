package eth

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// PriceResolver determines what was paid for the NFTs moved in one settled
// transaction: either the native value carried by the transaction itself or
// a wrapped-currency amount reconstructed from transfer logs. The boolean
// result reports whether the amount is wrapped-currency denominated.
type PriceResolver interface {
	ResolvePrice(ctx context.Context, txHash common.Hash, seller string, buyer string) (*big.Int, bool)
}

var erc20TransferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const (
	rpcCallTimeout = 30 * time.Second

	// Block windows for the wrapped-transfer fallback queries.
	partyQueryWindow = 100
	buyerScanBack    = 1000
	buyerScanAhead   = 100
	nearScanWindow   = 20
	proximityBlocks  = 5
)

type DefaultPriceResolver struct {
	ethClient    EthClient
	wrappedToken common.Address

	mu           sync.Mutex
	receiptCache map[common.Hash]*types.Receipt
}

func NewDefaultPriceResolver(client EthClient, wrappedToken common.Address) *DefaultPriceResolver {
	return &DefaultPriceResolver{
		ethClient:    client,
		wrappedToken: wrappedToken,
		receiptCache: make(map[common.Hash]*types.Receipt),
	}
}

// ResolvePrice never fails: every unresolvable condition degrades to
// (0, false). The strategies run in a fixed order and the first one
// producing a positive amount wins. A non-zero native transaction value is
// authoritative and short-circuits everything else.
func (r *DefaultPriceResolver) ResolvePrice(
	ctx context.Context,
	txHash common.Hash,
	seller string,
	buyer string,
) (*big.Int, bool) {

	if amount, ok := r.directValue(ctx, txHash); ok {
		return amount, false
	}

	receipt, err := r.getOrFetchReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return big.NewInt(0), false
	}

	if amount, ok := r.receiptWrappedAmount(receipt, seller); ok {
		return amount, true
	}

	if receipt.BlockNumber == nil {
		return big.NewInt(0), false
	}
	blockNumber := receipt.BlockNumber.Uint64()

	if amount, ok := r.wrappedBetweenParties(ctx, blockNumber, buyer, seller); ok {
		return amount, true
	}

	if amount, ok := r.wrappedFromBuyer(ctx, blockNumber, buyer, seller); ok {
		return amount, true
	}

	if amount, ok := r.wrappedNearBlock(ctx, blockNumber, txHash, buyer, seller); ok {
		return amount, true
	}

	return big.NewInt(0), false
}

func (r *DefaultPriceResolver) directValue(ctx context.Context, txHash common.Hash) (*big.Int, bool) {
	callCtx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	tx, _, err := r.ethClient.TransactionByHash(callCtx, txHash)
	if err != nil {
		zap.L().Warn("Failed to fetch transaction for price resolution",
			zap.String("txHash", txHash.Hex()),
			zap.Error(err))
		return nil, false
	}
	if tx == nil || tx.Value() == nil || tx.Value().Sign() <= 0 {
		return nil, false
	}
	return new(big.Int).Set(tx.Value()), true
}

// receiptWrappedAmount scans the receipt's own logs for wrapped-currency
// transfers. A transfer paying the seller wins outright; otherwise the
// largest transfer in the transaction is taken, since marketplace fee
// splitters route the proceeds through intermediary contracts.
func (r *DefaultPriceResolver) receiptWrappedAmount(receipt *types.Receipt, seller string) (*big.Int, bool) {
	var sellerAddr common.Address
	if seller != "" {
		sellerAddr = common.HexToAddress(seller)
	}

	var largest *big.Int
	for _, lg := range receipt.Logs {
		transfer, ok := decodeWrappedTransfer(lg, r.wrappedToken)
		if !ok {
			continue
		}
		if seller != "" && sameAddress(transfer.to, sellerAddr) {
			return transfer.amount, true
		}
		if largest == nil || transfer.amount.Cmp(largest) > 0 {
			largest = transfer.amount
		}
	}
	if largest != nil {
		return largest, true
	}
	return nil, false
}

func (r *DefaultPriceResolver) wrappedBetweenParties(
	ctx context.Context,
	blockNumber uint64,
	buyer string,
	seller string,
) (*big.Int, bool) {

	if buyer == "" || seller == "" {
		return nil, false
	}
	from := common.HexToAddress(buyer)
	to := common.HexToAddress(seller)

	transfers, err := r.fetchWrappedTransfers(ctx,
		blockFloor(blockNumber, partyQueryWindow), blockNumber+partyQueryWindow, &from, &to)
	if err != nil {
		zap.L().Warn("Wrapped-transfer query between parties failed",
			zap.Uint64("block", blockNumber),
			zap.Error(err))
		return nil, false
	}
	if len(transfers) == 0 {
		return nil, false
	}
	return transfers[0].amount, true
}

// wrappedFromBuyer widens the search to everything the buyer sent over the
// preceding ~1000 blocks and keeps the first transfer that paid the seller.
// This covers buyers pre-funding a marketplace contract well before the
// sale settled.
func (r *DefaultPriceResolver) wrappedFromBuyer(
	ctx context.Context,
	blockNumber uint64,
	buyer string,
	seller string,
) (*big.Int, bool) {

	if buyer == "" || seller == "" {
		return nil, false
	}
	from := common.HexToAddress(buyer)
	sellerAddr := common.HexToAddress(seller)

	transfers, err := r.fetchWrappedTransfers(ctx,
		blockFloor(blockNumber, buyerScanBack), blockNumber+buyerScanAhead, &from, nil)
	if err != nil {
		zap.L().Warn("Wrapped-transfer buyer scan failed",
			zap.Uint64("block", blockNumber),
			zap.Error(err))
		return nil, false
	}
	for _, tr := range transfers {
		if sameAddress(tr.to, sellerAddr) {
			return tr.amount, true
		}
	}
	return nil, false
}

// wrappedNearBlock is the last resort: every wrapped transfer in a narrow
// window around the target block, matched by exact transaction hash first.
// Only exact-hash matches are summed; proximity matches are mutually
// exclusive (first qualifying wins) so unrelated transfers in neighboring
// blocks cannot inflate the total.
func (r *DefaultPriceResolver) wrappedNearBlock(
	ctx context.Context,
	blockNumber uint64,
	txHash common.Hash,
	buyer string,
	seller string,
) (*big.Int, bool) {

	transfers, err := r.fetchWrappedTransfers(ctx,
		blockFloor(blockNumber, nearScanWindow), blockNumber+nearScanWindow, nil, nil)
	if err != nil {
		zap.L().Warn("Wrapped-transfer block scan failed",
			zap.Uint64("block", blockNumber),
			zap.Error(err))
		return nil, false
	}

	var buyerAddr, sellerAddr common.Address
	if buyer != "" {
		buyerAddr = common.HexToAddress(buyer)
	}
	if seller != "" {
		sellerAddr = common.HexToAddress(seller)
	}

	exactTotal := new(big.Int)
	var nearby *big.Int
	for _, tr := range transfers {
		if tr.txHash == txHash {
			exactTotal.Add(exactTotal, tr.amount)
			continue
		}
		if nearby != nil || !withinBlocks(tr.blockNumber, blockNumber, proximityBlocks) {
			continue
		}
		switch {
		case buyer != "" && seller != "":
			if sameAddress(tr.from, buyerAddr) && sameAddress(tr.to, sellerAddr) {
				nearby = tr.amount
			}
		case buyer == "" && seller != "":
			if sameAddress(tr.to, sellerAddr) {
				nearby = tr.amount
			}
		}
	}

	if exactTotal.Sign() > 0 {
		return exactTotal, true
	}
	if nearby != nil {
		return nearby, true
	}
	return nil, false
}

type wrappedTransfer struct {
	blockNumber uint64
	txHash      common.Hash
	from        common.Address
	to          common.Address
	amount      *big.Int
}

func decodeWrappedTransfer(lg *types.Log, wrappedToken common.Address) (wrappedTransfer, bool) {
	if lg.Address != wrappedToken || len(lg.Topics) < 3 || lg.Topics[0] != erc20TransferSig {
		return wrappedTransfer{}, false
	}
	amount := new(big.Int).SetBytes(lg.Data)
	if amount.Sign() <= 0 {
		return wrappedTransfer{}, false
	}
	return wrappedTransfer{
		blockNumber: lg.BlockNumber,
		txHash:      lg.TxHash,
		from:        common.BytesToAddress(lg.Topics[1].Bytes()),
		to:          common.BytesToAddress(lg.Topics[2].Bytes()),
		amount:      amount,
	}, true
}

func (r *DefaultPriceResolver) fetchWrappedTransfers(
	ctx context.Context,
	startBlock uint64,
	endBlock uint64,
	from *common.Address,
	to *common.Address,
) ([]wrappedTransfer, error) {

	topics := [][]common.Hash{{erc20TransferSig}}
	if from != nil || to != nil {
		if from != nil {
			topics = append(topics, []common.Hash{addressToTopic(*from)})
		} else {
			topics = append(topics, nil)
		}
		if to != nil {
			topics = append(topics, []common.Hash{addressToTopic(*to)})
		}
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(startBlock),
		ToBlock:   new(big.Int).SetUint64(endBlock),
		Addresses: []common.Address{r.wrappedToken},
		Topics:    topics,
	}

	callCtx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	logs, err := r.ethClient.FilterLogs(callCtx, query)
	if err != nil {
		return nil, err
	}

	transfers := make([]wrappedTransfer, 0, len(logs))
	for i := range logs {
		if transfer, ok := decodeWrappedTransfer(&logs[i], r.wrappedToken); ok {
			transfers = append(transfers, transfer)
		}
	}
	return transfers, nil
}

func (r *DefaultPriceResolver) getOrFetchReceipt(
	ctx context.Context,
	txHash common.Hash,
) (*types.Receipt, error) {
	r.mu.Lock()
	if rcp, ok := r.receiptCache[txHash]; ok {
		r.mu.Unlock()
		return rcp, nil
	}
	r.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	receipt, err := r.ethClient.TransactionReceipt(callCtx, txHash)
	if err != nil {
		zap.L().Warn("Error fetching transaction receipt for price resolution",
			zap.Error(err),
			zap.String("txHash", txHash.Hex()))
		return nil, err
	}

	r.mu.Lock()
	r.receiptCache[txHash] = receipt
	r.mu.Unlock()
	return receipt, nil
}

func addressToTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func blockFloor(block, delta uint64) uint64 {
	if block < delta {
		return 0
	}
	return block - delta
}

func withinBlocks(a, b, delta uint64) bool {
	if a > b {
		return a-b <= delta
	}
	return b-a <= delta
}

func sameAddress(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}
