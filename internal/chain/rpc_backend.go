package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RPCBackend is the submitter's Backend over an ethclient.Client.
type RPCBackend struct {
	*ethclient.Client
}

func NewRPCBackend(client *ethclient.Client) *RPCBackend {
	return &RPCBackend{Client: client}
}

// PendingEstimateGas runs eth_estimateGas with the "pending" block tag. ethclient's EstimateGas
// sends no tag, which nodes resolve to the latest block.
func (b *RPCBackend) PendingEstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas hexutil.Uint64
	if err := b.Client.Client().CallContext(ctx, &gas, "eth_estimateGas", callArg(msg), "pending"); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

func callArg(msg ethereum.CallMsg) map[string]any {
	arg := map[string]any{
		"from": msg.From,
		"to":   msg.To,
	}
	if len(msg.Data) > 0 {
		arg["input"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}
	for key, v := range map[string]*big.Int{
		"gasPrice":             msg.GasPrice,
		"maxFeePerGas":         msg.GasFeeCap,
		"maxPriorityFeePerGas": msg.GasTipCap,
	} {
		if v != nil {
			arg[key] = (*hexutil.Big)(v)
		}
	}
	return arg
}
