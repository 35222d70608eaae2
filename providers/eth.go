package providers

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/vitwit/payrank/types"
)

var _ GasPriceProvider = (*EVMGasProvider)(nil)
var _ BalanceProvider = (*EVMBalanceProvider)(nil)

// nativeTransferGas is the gas used by a plain value transfer.
const nativeTransferGas = 21000

// baselineGwei is each chain's typical gas price, used to tier congestion.
var baselineGwei = map[types.ChainID]decimal.Decimal{
	types.ChainEthereum: decimal.NewFromInt(20),
	types.ChainPolygon:  decimal.NewFromInt(50),
	types.ChainBase:     decimal.NewFromFloat(0.1),
	types.ChainArbitrum: decimal.NewFromFloat(0.15),
}

// classifyCongestion tiers a gas price against the chain baseline: at or
// below baseline is low, 3x baseline or more is high.
func classifyCongestion(chainID types.ChainID, gwei decimal.Decimal) types.CongestionLevel {
	baseline, ok := baselineGwei[chainID]
	if !ok {
		return types.CongestionMedium
	}
	if gwei.LessThanOrEqual(baseline) {
		return types.CongestionLow
	}
	if gwei.GreaterThanOrEqual(baseline.Mul(decimal.NewFromInt(3))) {
		return types.CongestionHigh
	}
	return types.CongestionMedium
}

// EVMGasProvider reads live gas prices from an EVM RPC endpoint and converts
// them to USD through an exchange-rate provider.
type EVMGasProvider struct {
	chainID types.ChainID
	rpcURL  string
	client  *ethclient.Client
	rates   ExchangeRateProvider
}

func NewEVMGasProvider(chainID types.ChainID, rpcURL string, rates ExchangeRateProvider) (*EVMGasProvider, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}

	return &EVMGasProvider{
		chainID: chainID,
		rpcURL:  rpcURL,
		client:  client,
		rates:   rates,
	}, nil
}

func (p *EVMGasProvider) FetchGasPrice(ctx context.Context, chainID types.ChainID) (*types.NetworkConditions, error) {
	if chainID != p.chainID {
		return nil, types.PrioritizationError{
			Code:    types.ErrUnsupportedChain,
			Message: fmt.Sprintf("provider serves chain %s, asked for %s", p.chainID, chainID),
		}
	}

	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	gwei := decimal.NewFromBigInt(gasPrice, -9)

	rate, err := p.rates.FetchRate(chainID.NativeSymbol(), "USD")
	if err != nil {
		return nil, fmt.Errorf("failed to price gas in USD: %w", err)
	}

	// USD cost of a plain native transfer at the suggested price.
	transferWei := decimal.NewFromBigInt(gasPrice, 0).Mul(decimal.NewFromInt(nativeTransferGas))
	gasUSD := transferWei.Shift(-18).Mul(rate.Rate)

	return &types.NetworkConditions{
		ChainID:         chainID,
		GasPriceGwei:    gwei,
		GasPriceUSD:     gasUSD,
		CongestionLevel: classifyCongestion(chainID, gwei),
		BlockTime:       chainID.AvgBlockTime(),
		LastUpdated:     time.Now(),
	}, nil
}

func (p *EVMGasProvider) Close() {
	p.client.Close()
}

// balanceOfSelector is the 4-byte selector of ERC20 balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// EVMBalanceProvider reads native and ERC20 balances from an EVM RPC
// endpoint.
type EVMBalanceProvider struct {
	chainID types.ChainID
	client  *ethclient.Client
}

func NewEVMBalanceProvider(chainID types.ChainID, rpcURL string) (*EVMBalanceProvider, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}

	return &EVMBalanceProvider{chainID: chainID, client: client}, nil
}

func (p *EVMBalanceProvider) FetchBalance(ctx context.Context, address string, method *types.PaymentMethod) (decimal.Decimal, error) {
	owner := common.HexToAddress(address)

	switch {
	case method.Type == types.MethodNative:
		wei, err := p.client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to fetch native balance: %w", err)
		}
		return decimal.NewFromBigInt(wei, -18), nil

	case method.Type.IsStablecoin():
		if method.Token == nil || method.Token.Address == "" {
			return decimal.Zero, types.PrioritizationError{
				Code:    types.ErrInvalidRequest,
				Message: fmt.Sprintf("method %s has no token contract", method.ID),
			}
		}
		token := common.HexToAddress(method.Token.Address)
		data := append(balanceOfSelector, common.LeftPadBytes(owner.Bytes(), 32)...)

		res, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to fetch token balance: %w", err)
		}

		raw := new(big.Int).SetBytes(res)
		return decimal.NewFromBigInt(raw, -int32(method.Token.Decimals)), nil

	default:
		return decimal.Zero, types.PrioritizationError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("method type %s has no on-chain balance", method.Type),
		}
	}
}

func (p *EVMBalanceProvider) Close() {
	p.client.Close()
}
