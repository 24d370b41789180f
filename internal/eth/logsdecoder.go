package eth

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

var erc1155ABI abi.ABI
var erc721TransferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func init() {
	erc1155Abi, err := abi.JSON(strings.NewReader(`[
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "operator", "type": "address"},
            {"indexed": true, "name": "from",     "type": "address"},
            {"indexed": true, "name": "to",       "type": "address"},
            {"indexed": false,"name": "id",       "type": "uint256"},
            {"indexed": false,"name": "value",    "type": "uint256"}
        ],
        "name": "TransferSingle",
        "type": "event"
    },
    {
        "anonymous": false,
        "inputs": [
            {"indexed": true, "name": "operator", "type": "address"},
            {"indexed": true, "name": "from",     "type": "address"},
            {"indexed": true, "name": "to",       "type": "address"},
            {"indexed": false,"name": "ids",      "type": "uint256[]"},
            {"indexed": false,"name": "values",   "type": "uint256[]"}
        ],
        "name": "TransferBatch",
        "type": "event"
    }
	]`))
	if err != nil {
		panic("failed to parse ERC1155 ABI")
	}
	erc1155ABI = erc1155Abi
}

// decodeTransferLogs turns raw contract logs into transfer activities. ERC-721
// Transfer events carry the token id as the fourth indexed topic; ERC-1155
// TransferSingle/TransferBatch events carry ids in the data segment. Logs that
// match neither shape are skipped, a batch yields one activity per id.
func decodeTransferLogs(allLogs []types.Log) []sales.Activity {
	erc1155transferSingleSig := erc1155ABI.Events["TransferSingle"].ID
	erc1155transferBatchSig := erc1155ABI.Events["TransferBatch"].ID

	var activities []sales.Activity
	for _, lg := range allLogs {
		if len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case erc721TransferSig:
			if len(lg.Topics) != 4 {
				continue
			}
			from := common.HexToAddress(lg.Topics[1].Hex())
			to := common.HexToAddress(lg.Topics[2].Hex())
			tokenId := new(big.Int).SetBytes(lg.Topics[3].Bytes())
			activities = append(activities, sales.Activity{
				BlockNumber:      lg.BlockNumber,
				TransactionIndex: uint64(lg.TxIndex),
				LogIndex:         uint64(lg.Index),
				TxHash:           strings.ToLower(lg.TxHash.Hex()),
				Contract:         strings.ToLower(lg.Address.Hex()),
				From:             strings.ToLower(from.Hex()),
				To:               strings.ToLower(to.Hex()),
				TokenID:          tokenId.String(),
			})
		case erc1155transferSingleSig:
			activity, err := decodeTransferSingle(lg)
			if err != nil {
				zap.L().Warn("Error decoding TransferSingle", zap.Error(err))
				continue
			}
			activities = append(activities, activity)
		case erc1155transferBatchSig:
			batch, err := decodeTransferBatch(lg)
			if err != nil {
				zap.L().Warn("Error decoding TransferBatch", zap.Error(err))
				continue
			}
			activities = append(activities, batch...)
		}
	}
	return activities
}

func decodeTransferSingle(lg types.Log) (sales.Activity, error) {
	if len(lg.Topics) < 4 {
		return sales.Activity{}, errors.New("invalid TransferSingle topics length")
	}
	from := common.HexToAddress(lg.Topics[2].Hex())
	to := common.HexToAddress(lg.Topics[3].Hex())

	var transferData struct {
		ID    *big.Int `abi:"id"`
		Value *big.Int `abi:"value"`
	}
	if err := erc1155ABI.UnpackIntoInterface(&transferData, "TransferSingle", lg.Data); err != nil {
		return sales.Activity{}, err
	}

	return sales.Activity{
		BlockNumber:      lg.BlockNumber,
		TransactionIndex: uint64(lg.TxIndex),
		LogIndex:         uint64(lg.Index),
		TxHash:           strings.ToLower(lg.TxHash.Hex()),
		Contract:         strings.ToLower(lg.Address.Hex()),
		From:             strings.ToLower(from.Hex()),
		To:               strings.ToLower(to.Hex()),
		TokenID:          transferData.ID.String(),
	}, nil
}

func decodeTransferBatch(lg types.Log) ([]sales.Activity, error) {
	if len(lg.Topics) < 4 {
		return nil, errors.New("invalid TransferBatch topics length")
	}

	from := common.HexToAddress(lg.Topics[2].Hex())
	to := common.HexToAddress(lg.Topics[3].Hex())

	var batchData struct {
		Ids    []*big.Int `abi:"ids"`
		Values []*big.Int `abi:"values"`
	}
	if err := erc1155ABI.UnpackIntoInterface(&batchData, "TransferBatch", lg.Data); err != nil {
		return nil, err
	}

	var activities []sales.Activity
	for i := 0; i < len(batchData.Ids); i++ {
		activities = append(activities, sales.Activity{
			BlockNumber:      lg.BlockNumber,
			TransactionIndex: uint64(lg.TxIndex),
			LogIndex:         uint64(lg.Index),
			TxHash:           strings.ToLower(lg.TxHash.Hex()),
			Contract:         strings.ToLower(lg.Address.Hex()),
			From:             strings.ToLower(from.Hex()),
			To:               strings.ToLower(to.Hex()),
			TokenID:          batchData.Ids[i].String(),
		})
	}
	return activities, nil
}
