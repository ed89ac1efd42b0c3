package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ZeroAddress is the sender of every mint.
var ZeroAddress = strings.ToLower(common.Address{}.Hex())

var ErrNotTransfer = errors.New("log is not an ERC-721 Transfer")

// TransferEvent is a decoded Transfer(from, to, tokenId) log. Addresses are lower-cased.
type TransferEvent struct {
	From        string
	To          string
	TokenID     *big.Int
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Removed     bool // set by the node when the log was dropped in a reorg
}

// IsMint reports whether the transfer originates from the zero address.
func (e TransferEvent) IsMint() bool {
	return e.From == ZeroAddress
}

// TransferFromLog decodes an ERC-721 Transfer log. All three fields are indexed, so
// the values live in the topics and the data section is empty.
func TransferFromLog(l types.Log) (TransferEvent, error) {
	if len(l.Topics) != 4 || l.Topics[0] != TransferTopic {
		return TransferEvent{}, ErrNotTransfer
	}
	return TransferEvent{
		From:        strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
		To:          strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
		TokenID:     new(big.Int).SetBytes(l.Topics[3].Bytes()),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}, nil
}

// TokenIDInt64 narrows an on-chain token id to the ledger's column type.
func TokenIDInt64(id *big.Int) (int64, error) {
	if id == nil || id.Sign() < 0 || !id.IsInt64() {
		return 0, fmt.Errorf("token id %v out of range", id)
	}
	return id.Int64(), nil
}
