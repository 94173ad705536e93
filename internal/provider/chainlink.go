package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/sourceclient"
)

const aggregatorV3ABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse aggregator v3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain oracle adapter.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps an asset symbol to its aggregator contract address.
	Feeds    map[string]string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// Chainlink reads prices from on-chain aggregator feeds. It needs no API
// keys, so its source client runs with an empty pool and only contributes
// caching and stale-on-error.
type Chainlink struct {
	opts   ChainlinkOptions
	source *sourceclient.Client[feed.PriceReading]
	logger zerolog.Logger

	clientMux sync.Mutex
	client    *ethclient.Client

	decMux   sync.Mutex
	decimals map[string]int32
}

func NewChainlink(opts ChainlinkOptions, cache sourceclient.Cache, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts: opts,
		source: sourceclient.New[feed.PriceReading](sourceclient.Options{
			CacheTTL: opts.CacheTTL,
		}, cache, logger),
		logger:   logger.With().Str("component", "chainlink").Logger(),
		decimals: make(map[string]int32),
	}
}

func (c *Chainlink) Name() feed.Source {
	return feed.SourceChainlink
}

func (c *Chainlink) FetchPrice(ctx context.Context, symbol string) (feed.PriceReading, error) {
	symbol = strings.ToUpper(symbol)
	feedAddr, ok := c.opts.Feeds[symbol]
	if !ok {
		return feed.PriceReading{}, fmt.Errorf("%w: no chainlink feed for %s", sourceclient.ErrNotFound, symbol)
	}
	if c.opts.RPCURL == "" {
		return feed.PriceReading{}, errors.New("chainlink rpc url not configured")
	}

	cacheKey := "chainlink:price:" + symbol
	return c.source.Do(ctx, cacheKey, func(ctx context.Context, _ string) (feed.PriceReading, error) {
		return c.fetchOnChain(ctx, symbol, feedAddr)
	})
}

func (c *Chainlink) fetchOnChain(ctx context.Context, symbol, feedAddr string) (feed.PriceReading, error) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return feed.PriceReading{}, fmt.Errorf("%w: dial rpc: %v", sourceclient.ErrNetwork, err)
	}

	addr := common.HexToAddress(feedAddr)

	decimals, err := c.feedDecimals(ctx, client, addr, symbol)
	if err != nil {
		return feed.PriceReading{}, err
	}

	payload, err := aggregatorV3ABI.Pack("latestRoundData")
	if err != nil {
		return feed.PriceReading{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return feed.PriceReading{}, fmt.Errorf("%w: latestRoundData: %v", sourceclient.ErrNetwork, err)
	}
	outputs, err := aggregatorV3ABI.Unpack("latestRoundData", res)
	if err != nil {
		return feed.PriceReading{}, err
	}
	if len(outputs) != 5 {
		return feed.PriceReading{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return feed.PriceReading{}, errors.New("failed to decode answer")
	}
	if answer.Sign() < 0 {
		return feed.PriceReading{}, fmt.Errorf("feed %s returned negative answer", symbol)
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return feed.PriceReading{}, errors.New("failed to decode updatedAt")
	}

	return feed.PriceReading{
		Symbol:    symbol,
		Price:     answer,
		Decimals:  decimals,
		Source:    feed.SourceChainlink,
		Timestamp: updatedAt.Int64(),
	}, nil
}

// feedDecimals reads and memoises the feed's decimal exponent; it is fixed
// for the lifetime of an aggregator contract.
func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address, symbol string) (int32, error) {
	c.decMux.Lock()
	if d, ok := c.decimals[symbol]; ok {
		c.decMux.Unlock()
		return d, nil
	}
	c.decMux.Unlock()

	payload, err := aggregatorV3ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: decimals: %v", sourceclient.ErrNetwork, err)
	}
	outputs, err := aggregatorV3ABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	raw, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals")
	}

	d := int32(raw)
	c.decMux.Lock()
	c.decimals[symbol] = d
	c.decMux.Unlock()
	return d, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceSource = (*Chainlink)(nil)
