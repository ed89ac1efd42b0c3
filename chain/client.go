package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
)

// contractABI covers only what the service reads from the memory contract.
const contractABI = `[
	{"anonymous":false,"type":"event","name":"Transfer","inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"}]},
	{"type":"function","name":"tokenURI","stateMutability":"view",
		"inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"mintLimit","stateMutability":"view",
		"inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// ErrUpstream wraps every failed RPC call.
var ErrUpstream = errors.New("chain rpc unavailable")

// Subscription is a live log subscription. It matches go-ethereum's event.Subscription.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Contract is the chain surface consumed by the listener, reconciler and bootstrap.
type Contract interface {
	Address() string
	SubscribeMints(ctx context.Context, sink chan<- TransferEvent) (Subscription, error)
	FilterMints(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error)
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
	MintLimit(ctx context.Context) (uint64, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// Client is the process-wide handle on the RPC endpoint and the deployed contract.
// Construct once with Dial and Close on shutdown.
type Client struct {
	rpc     *ethclient.Client
	address common.Address
	abi     abi.ABI
}

var _ Contract = (*Client)(nil)

// Dial connects to rawURL (ws:// or wss:// is required for SubscribeMints).
func Dial(ctx context.Context, rawURL, contract string) (*Client, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUpstream, rawURL, err)
	}
	return &Client{rpc: rpc, address: common.HexToAddress(contract), abi: parsed}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// Address returns the lower-cased contract address.
func (c *Client) Address() string {
	return strings.ToLower(c.address.Hex())
}

func (c *Client) mintQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{TransferTopic},
			{common.Hash{}}, // from == 0x0
		},
	}
}

// SubscribeMints streams decoded mint events into sink until the subscription is
// unsubscribed or fails. Undecodable logs are logged and skipped.
func (c *Client) SubscribeMints(ctx context.Context, sink chan<- TransferEvent) (Subscription, error) {
	logs := make(chan types.Log, 64)
	sub, err := c.rpc.SubscribeFilterLogs(ctx, c.mintQuery(), logs)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe transfer logs: %v", ErrUpstream, err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				ev, err := TransferFromLog(l)
				if err != nil {
					log.Printf("[Chain] skipping log %s/%d: %v", l.TxHash.Hex(), l.Index, err)
					continue
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// FilterMints returns the mint events in [fromBlock, toBlock].
func (c *Client) FilterMints(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	q := c.mintQuery()
	q.FromBlock = new(big.Int).SetUint64(fromBlock)
	q.ToBlock = new(big.Int).SetUint64(toBlock)

	logs, err := c.rpc.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs %d-%d: %v", ErrUpstream, fromBlock, toBlock, err)
	}
	events := make([]TransferEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := TransferFromLog(l)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// TokenURI calls tokenURI(tokenId).
func (c *Client) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	out, err := c.call(ctx, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI returned %T", out[0])
	}
	return uri, nil
}

// MintLimit calls mintLimit().
func (c *Client) MintLimit(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "mintLimit")
	if err != nil {
		return 0, err
	}
	limit, ok := out[0].(*big.Int)
	if !ok || !limit.IsUint64() {
		return 0, fmt.Errorf("mintLimit returned unusable value %v", out[0])
	}
	return limit.Uint64(), nil
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrUpstream, err)
	}
	return n, nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrUpstream, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no values", ErrUpstream, method)
	}
	return out, nil
}
