// Copyright 2025 Certen Protocol
//
// EVM adapter: submits and polls the EthSend, Erc20Transfer, and DexSwap
// step kinds over go-ethereum's ethclient.
//
// Signing is deterministic in nonce and step contents only: no wall-clock
// or random data enters the signed payload, so two workers racing the same
// nonce broadcast byte-identical transactions and the chain accepts one.

package chainadapter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// routerABI is the minimal ABI fragment needed to pack transfer and
// router-swap calls without pulling in a generated contract binding.
const routerABI = `[
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"}
]`

// erc20TransferEventSig is keccak256("Transfer(address,address,uint256)"),
// the topic0 every ERC-20 Transfer log carries.
var erc20TransferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EVMAdapter implements Adapter for EVM-family chains.
type EVMAdapter struct {
	chain      types.ChainId
	client     *ethclient.Client
	chainID    *big.Int
	signer     *ecdsa.PrivateKey
	routerABI  abi.ABI
	confirmReq uint64 // block confirmations required before a poll reports Finalized
}

// NewEVMAdapter dials rpcURL and prepares an adapter for chain, signing with
// signerKeyHex (hex-encoded ECDSA private key, 0x prefix optional).
func NewEVMAdapter(chain types.ChainId, rpcURL string, evmChainID int64, signerKeyHex string, confirmations uint64) (*EVMAdapter, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainadapter: evm dial %q: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chainadapter: evm parse signer key: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("chainadapter: evm parse abi: %w", err)
	}
	return &EVMAdapter{
		chain:      chain,
		client:     client,
		chainID:    big.NewInt(evmChainID),
		signer:     key,
		routerABI:  parsedABI,
		confirmReq: confirmations,
	}, nil
}

// EVMAddressFromKey derives the account address for a hex-encoded ECDSA
// private key, for wiring a worker's configured signer key into its
// AdapterResolver without constructing a full adapter just to ask.
func EVMAddressFromKey(signerKeyHex string) (types.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return types.Address{}, fmt.Errorf("chainadapter: evm parse signer key: %w", err)
	}
	var b [20]byte
	copy(b[:], crypto.PubkeyToAddress(key.PublicKey).Bytes())
	return types.EVMAddress(b), nil
}

func addrToCommon(a types.Address) common.Address {
	var out common.Address
	copy(out[:], a.Bytes[:20])
	return out
}

func erc20ToCommon(k types.TokenKey) common.Address {
	return common.Address(k.ERC20Addr)
}

func (a *EVMAdapter) GetNextAccountNonce(ctx context.Context, signer types.Address) (uint64, error) {
	nonce, err := a.client.PendingNonceAt(ctx, addrToCommon(signer))
	if err != nil {
		return 0, classifyRPCErr(err)
	}
	return nonce, nil
}

func (a *EVMAdapter) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	n, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, classifyRPCErr(err)
	}
	return n, nil
}

// Submit builds the transaction matching step.Kind, signs it deterministically
// at nonce, and broadcasts it.
func (a *EVMAdapter) Submit(ctx context.Context, step *plan.ExecutionStep, nonce uint64, signer types.Address) (TxHandle, error) {
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return TxHandle{}, classifyRPCErr(err)
	}

	var (
		to         common.Address
		value      *big.Int
		data       []byte
		gasLimit   uint64
		watchToken types.TokenKey // zero value (TokenKindNative) means watch tx.Value() instead
	)

	switch step.Kind {
	case plan.StepKindEthSend:
		if step.Transfer.Amount == nil {
			return TxHandle{}, fmt.Errorf("chainadapter: evm submit: step %s has no amount_in", step.Id)
		}
		to = addrToCommon(step.Meta.DestAddr)
		value = step.Transfer.Amount.Int()
		gasLimit = 21000

	case plan.StepKindErc20Transfer:
		if step.Transfer.Amount == nil {
			return TxHandle{}, fmt.Errorf("chainadapter: evm submit: step %s has no amount_in", step.Id)
		}
		to = erc20ToCommon(step.Transfer.Token.Key)
		data, err = a.routerABI.Pack("transfer", addrToCommon(step.Meta.DestAddr), step.Transfer.Amount.Int())
		if err != nil {
			return TxHandle{}, fmt.Errorf("chainadapter: evm pack transfer: %w", err)
		}
		value = big.NewInt(0)
		gasLimit = 65000
		watchToken = step.Transfer.Token.Key

	case plan.StepKindDexSwap:
		if step.DexSwap.AmountIn == nil || step.DexSwap.MinAmountOut == nil {
			return TxHandle{}, fmt.Errorf("chainadapter: evm submit: step %s missing swap amounts", step.Id)
		}
		to = addrToCommon(step.DexSwap.RouterAddr)
		pathAddrs := make([]common.Address, len(step.DexSwap.TokenPath))
		for i, tk := range step.DexSwap.TokenPath {
			pathAddrs[i] = erc20ToCommon(tk.Key)
		}
		data, err = a.routerABI.Pack("swapExactTokensForTokens",
			step.DexSwap.AmountIn.Int(), step.DexSwap.MinAmountOut.Int(), pathAddrs, addrToCommon(step.Meta.DestAddr))
		if err != nil {
			return TxHandle{}, fmt.Errorf("chainadapter: evm pack swap: %w", err)
		}
		value = big.NewInt(0)
		gasLimit = 250000
		if n := len(step.DexSwap.TokenPath); n > 0 {
			watchToken = step.DexSwap.TokenPath[n-1].Key
		}

	default:
		return TxHandle{}, fmt.Errorf("chainadapter: evm adapter cannot handle step kind %v", step.Kind)
	}

	tx := gethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(a.chainID), a.signer)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainadapter: evm sign: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return TxHandle{}, classifySendErr(err)
	}

	return TxHandle{
		TxHash:     signedTx.Hash().Hex(),
		Nonce:      nonce,
		WatchToken: watchToken,
		WatchDest:  step.Meta.DestAddr,
	}, nil
}

func (a *EVMAdapter) Poll(ctx context.Context, handle TxHandle) (PollResult, error) {
	hash := common.HexToHash(handle.TxHash)
	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return PollResult{Status: PollPending}, nil
		}
		return PollResult{}, classifyRPCErr(err)
	}

	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return PollResult{Status: PollDropped, Block: receipt.BlockNumber.Uint64(), DropReason: "evm: reverted"}, nil
	}

	head, err := a.client.BlockNumber(ctx)
	if err != nil {
		return PollResult{}, classifyRPCErr(err)
	}

	status := PollIncluded
	if head-receipt.BlockNumber.Uint64() >= a.confirmReq {
		status = PollFinalized
	}

	tx, _, err := a.client.TransactionByHash(ctx, hash)
	gasPrice := types.ZeroAmount()
	if err == nil && tx != nil {
		if p, perr := types.NewAmount(tx.GasPrice()); perr == nil {
			gasPrice = p
		}
	}

	effectiveOutput, _ := effectiveOutputOf(handle, receipt.Logs, tx)

	return PollResult{
		Status:          status,
		Block:           receipt.BlockNumber.Uint64(),
		GasUsed:         receipt.GasUsed,
		GasPrice:        gasPrice,
		EffectiveOutput: effectiveOutput,
	}, nil
}

// effectiveOutputOf recovers the step's observed output from either the
// transaction's native value (plain transfers) or the ERC-20 Transfer log
// emitted to handle.WatchDest by handle.WatchToken's contract (Erc20Transfer
// and the final hop of a DexSwap, both of which send value 0 and carry the
// real output only in logs).
func effectiveOutputOf(handle TxHandle, logs []*gethtypes.Log, tx *gethtypes.Transaction) (types.Amount, bool) {
	if handle.WatchToken.Kind != types.TokenKindERC20 {
		if tx == nil {
			return types.ZeroAmount(), false
		}
		v, err := types.NewAmount(tx.Value())
		if err != nil {
			return types.ZeroAmount(), false
		}
		return v, true
	}

	tokenAddr := erc20ToCommon(handle.WatchToken)
	destAddr := addrToCommon(handle.WatchDest)
	for _, lg := range logs {
		if lg.Address != tokenAddr {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != erc20TransferEventSig {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != destAddr {
			continue
		}
		amt := new(big.Int).SetBytes(lg.Data)
		v, err := types.NewAmount(amt)
		if err != nil {
			continue
		}
		return v, true
	}
	return types.ZeroAmount(), false
}

// classifyRPCErr wraps a raw ethclient error as ErrTransientNetwork: every
// failure from a live RPC call (timeouts, connection resets, rate limits)
// is safe to retry with the same nonce, since nothing was broadcast.
func classifyRPCErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
}

// classifySendErr inspects go-ethereum's string-typed SendTransaction
// errors and maps them onto the adapter's sentinel kinds.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return fmt.Errorf("%w: %v", ErrNonceAlreadyUsed, err)
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "gas too low"),
		strings.Contains(msg, "exceeds block gas limit"),
		strings.Contains(msg, "intrinsic gas too low"):
		return fmt.Errorf("%w: %v", ErrPermanentRejection, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
}
