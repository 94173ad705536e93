package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const registryABIJSON = `[{"inputs":[{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"layout","type":"string"}],"name":"registerSchema","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"string","name":"name","type":"string"}],"name":"isRegistered","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"string","name":"schema","type":"string"},{"internalType":"string","name":"key","type":"string"},{"internalType":"bytes","name":"payload","type":"bytes"}],"name":"submit","outputs":[],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"internalType":"string","name":"schema","type":"string"}],"name":"fetch","outputs":[{"internalType":"string[]","name":"keys","type":"string[]"},{"internalType":"bytes[]","name":"payloads","type":"bytes[]"}],"stateMutability":"view","type":"function"}]`

var registryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("failed to parse registry ABI: " + err.Error())
	}
	registryABI = parsed
}

// EVMOptions parameterise the on-chain ledger client.
type EVMOptions struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	GasLimit        uint64
	Timeout         time.Duration
}

// EVM submits records to a registry contract over Ethereum RPC.
type EVM struct {
	opts     EVMOptions
	logger   zerolog.Logger
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address

	clientMux sync.Mutex
	client    *ethclient.Client
}

// NewEVM validates the options and prepares the signing key. The RPC
// connection is dialed lazily on first use.
func NewEVM(opts EVMOptions, logger zerolog.Logger) (*EVM, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}
	if opts.ContractAddress == "" {
		return nil, errors.New("ledger contract address not configured")
	}
	if opts.PrivateKey == "" {
		return nil, errors.New("ledger private key not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger private key: %w", err)
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = 300_000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	return &EVM{
		opts:     opts,
		logger:   logger.With().Str("component", "evm_ledger").Logger(),
		contract: common.HexToAddress(opts.ContractAddress),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// RegisterSchema registers a record layout. An already-registered schema is
// reported as ErrSchemaExists, which callers treat as success.
func (l *EVM) RegisterSchema(ctx context.Context, schema SchemaDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	client, err := l.getClient(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	exists, err := l.isRegistered(ctx, client, schema.Name)
	if err != nil {
		return fmt.Errorf("%w: isRegistered: %v", ErrUnavailable, err)
	}
	if exists {
		return ErrSchemaExists
	}

	data, err := registryABI.Pack("registerSchema", schema.Name, schema.Layout)
	if err != nil {
		return err
	}
	if _, err := l.sendTx(ctx, client, data); err != nil {
		if isAlreadyExists(err) {
			return ErrSchemaExists
		}
		return fmt.Errorf("%w: registerSchema: %v", ErrUnavailable, err)
	}

	l.logger.Info().Str("schema", schema.Name).Msg("schema registered")
	return nil
}

// Submit files a record and returns the transaction hash as the handle.
func (l *EVM) Submit(ctx context.Context, record Record) (TxHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	client, err := l.getClient(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	data, err := registryABI.Pack("submit", record.Schema, record.Key, record.Payload)
	if err != nil {
		return "", err
	}
	tx, err := l.sendTx(ctx, client, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	return TxHandle(tx.Hash().Hex()), nil
}

// Query reads the latest record per key for a schema from the contract.
func (l *EVM) Query(ctx context.Context, filter Filter) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	client, err := l.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	data, err := registryABI.Pack("fetch", filter.Schema)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &l.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %v", ErrUnavailable, err)
	}

	outputs, err := registryABI.Unpack("fetch", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 2 {
		return nil, errors.New("unexpected fetch response")
	}
	keys, ok := outputs[0].([]string)
	if !ok {
		return nil, errors.New("failed to decode record keys")
	}
	payloads, ok := outputs[1].([][]byte)
	if !ok || len(payloads) != len(keys) {
		return nil, errors.New("failed to decode record payloads")
	}

	records := make([]Record, 0, len(keys))
	for i, key := range keys {
		if filter.Key != "" && key != filter.Key {
			continue
		}
		records = append(records, Record{Schema: filter.Schema, Key: key, Payload: payloads[i]})
	}
	return records, nil
}

func (l *EVM) isRegistered(ctx context.Context, client *ethclient.Client, name string) (bool, error) {
	data, err := registryABI.Pack("isRegistered", name)
	if err != nil {
		return false, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &l.contract, Data: data}, nil)
	if err != nil {
		return false, err
	}
	outputs, err := registryABI.Unpack("isRegistered", res)
	if err != nil {
		return false, err
	}
	if len(outputs) != 1 {
		return false, errors.New("unexpected isRegistered response")
	}
	exists, ok := outputs[0].(bool)
	if !ok {
		return false, errors.New("failed to decode isRegistered output")
	}
	return exists, nil
}

func (l *EVM) sendTx(ctx context.Context, client *ethclient.Client, data []byte) (*types.Transaction, error) {
	nonce, err := client.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, l.contract, big.NewInt(0), l.opts.GasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(l.opts.ChainID)), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

func (l *EVM) getClient(ctx context.Context) (*ethclient.Client, error) {
	l.clientMux.Lock()
	defer l.clientMux.Unlock()

	if l.client != nil {
		return l.client, nil
	}
	client, err := ethclient.DialContext(ctx, l.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already registered") || strings.Contains(msg, "exists")
}

var _ Ledger = (*EVM)(nil)
