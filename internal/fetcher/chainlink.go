package fetcher

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
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint80","name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

	// Every Chainlink FX feed used here is quoted against USD.
	chainlinkQuote = "USD"
)

var (
	aggregatorV3ABI abi.ABI
	phaseShift      = uint(64)
	aggregatorMask  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(1))
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain FX feed fetcher.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
	// MaxSteps caps the number of historical rounds probed per lookup.
	MaxSteps int
}

// Chainlink converts amounts through Chainlink <CCY>/USD aggregators, picking
// the last round published on or before the end of the requested day.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    contractCaller
	clientMux sync.Mutex
}

type contractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// NewChainlink builds a new Chainlink feed fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 64
	}
	feeds := make(map[string]string, len(opts.Feeds))
	for ccy, addr := range opts.Feeds {
		feeds[strings.ToUpper(strings.TrimSpace(ccy))] = addr
	}
	opts.Feeds = feeds
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// Convert prices amount in USD through the source feed, then back out through the target feed.
func (c *Chainlink) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	if c.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}
	if len(c.opts.Feeds) == 0 {
		return decimal.Decimal{}, errors.New("no chainlink feeds configured")
	}

	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return amount, nil
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cutoff := model.Day(date).Add(24 * time.Hour)

	fromUSD, err := c.usdPrice(ctx, from, cutoff)
	if err != nil {
		return decimal.Decimal{}, err
	}
	toUSD, err := c.usdPrice(ctx, to, cutoff)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return amount.Mul(fromUSD).Div(toUSD), nil
}

func (c *Chainlink) usdPrice(ctx context.Context, currency string, cutoff time.Time) (decimal.Decimal, error) {
	if currency == chainlinkQuote {
		return decimal.NewFromInt(1), nil
	}
	addr, ok := c.opts.Feeds[currency]
	if !ok || addr == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: no chainlink feed for %s", ErrRateUnavailable, currency)
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	src := &aggregatorFeed{caller: client, address: common.HexToAddress(addr)}
	price, err := priceAt(ctx, src, cutoff, c.opts.MaxSteps)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("chainlink %s/USD: %w", currency, err)
	}
	return price, nil
}

func (c *Chainlink) getClient(ctx context.Context) (contractCaller, error) {
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

type roundData struct {
	ID        *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

type roundSource interface {
	decimals(ctx context.Context) (uint8, error)
	latestRound(ctx context.Context) (roundData, error)
	round(ctx context.Context, id *big.Int) (roundData, error)
}

// priceAt returns the answer of the newest round updated strictly before cutoff.
// Rounds inside one aggregator phase are probed with a binary search.
func priceAt(ctx context.Context, src roundSource, cutoff time.Time, maxSteps int) (decimal.Decimal, error) {
	decimals, err := src.decimals(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read decimals: %w", err)
	}

	latest, err := src.latestRound(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read latest round: %w", err)
	}

	found := latest
	if !latest.UpdatedAt.Before(cutoff) {
		phase, aggLatest := splitRoundID(latest.ID)
		lo, hi := uint64(1), aggLatest
		var best *roundData
		for steps := 0; lo < hi; steps++ {
			if steps >= maxSteps {
				return decimal.Decimal{}, fmt.Errorf("%w: round search exceeded %d steps", ErrRateUnavailable, maxSteps)
			}
			mid := lo + (hi-lo)/2
			rd, err := src.round(ctx, composeRoundID(phase, mid))
			if err != nil {
				return decimal.Decimal{}, fmt.Errorf("read round %d: %w", mid, err)
			}
			if rd.UpdatedAt.Before(cutoff) {
				candidate := rd
				best = &candidate
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if best == nil {
			return decimal.Decimal{}, fmt.Errorf("%w: no round before %s", ErrRateUnavailable, cutoff.Format(time.RFC3339))
		}
		found = *best
	}

	if found.Answer == nil || found.Answer.Sign() <= 0 {
		return decimal.Decimal{}, errors.New("feed returned non-positive answer")
	}
	return decimal.NewFromBigInt(found.Answer, -int32(decimals)), nil
}

func splitRoundID(id *big.Int) (uint16, uint64) {
	phase := new(big.Int).Rsh(id, phaseShift).Uint64()
	agg := new(big.Int).And(id, aggregatorMask).Uint64()
	return uint16(phase), agg
}

func composeRoundID(phase uint16, agg uint64) *big.Int {
	id := new(big.Int).Lsh(big.NewInt(int64(phase)), phaseShift)
	return id.Or(id, new(big.Int).SetUint64(agg))
}

type aggregatorFeed struct {
	caller  contractCaller
	address common.Address
}

func (f *aggregatorFeed) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &f.address, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (f *aggregatorFeed) decimals(ctx context.Context) (uint8, error) {
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return d, nil
}

func (f *aggregatorFeed) latestRound(ctx context.Context) (roundData, error) {
	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return roundData{}, err
	}
	return decodeRound(out)
}

func (f *aggregatorFeed) round(ctx context.Context, id *big.Int) (roundData, error) {
	out, err := f.call(ctx, "getRoundData", id)
	if err != nil {
		return roundData{}, err
	}
	return decodeRound(out)
}

func decodeRound(out []interface{}) (roundData, error) {
	if len(out) != 5 {
		return roundData{}, errors.New("unexpected round data response")
	}
	id, ok1 := out[0].(*big.Int)
	answer, ok2 := out[1].(*big.Int)
	updated, ok3 := out[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return roundData{}, errors.New("failed to decode round data output")
	}
	return roundData{
		ID:        id,
		Answer:    answer,
		UpdatedAt: time.Unix(updated.Int64(), 0).UTC(),
	}, nil
}

var _ HistoricalRateFetcher = (*Chainlink)(nil)
