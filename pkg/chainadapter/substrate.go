// Copyright 2025 Certen Protocol
//
// Substrate adapter: submits and polls CrossChainTransfer (XCM) steps over
// a parachain's JSON-RPC endpoint. No example repo in the retrieved pack
// carries a Substrate RPC client library, so this is built directly on
// net/http the way the other_examples xcm_bridge.go talks to EVM chains'
// JSON-RPC — same shape, Substrate method names.

package chainadapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// SubstrateAdapter implements Adapter and CrossChainSourceAdapter for
// Substrate-family chains by round-tripping JSON-RPC requests. Extrinsic
// construction and signing are delegated to the SubstrateSigner field, since the SCALE
// encoding rules differ per runtime metadata version; the adapter itself
// only owns submission, confirmation polling, and XCM message tracking.
type SubstrateAdapter struct {
	chain      types.ChainId
	endpoint   string
	httpClient *http.Client
	signer     SubstrateSigner
	confirmReq uint64
}

// SubstrateSigner builds and signs a SCALE-encoded extrinsic for step at
// nonce, returning the hex-encoded extrinsic ready for author_submitExtrinsic.
// Implementations must be deterministic in (step, nonce): tolerating a
// racing double-submission at the same nonce requires identical
// extrinsics, and therefore identical extrinsic hashes, across repeated
// signings at the same nonce.
type SubstrateSigner interface {
	SignExtrinsic(step *plan.ExecutionStep, nonce uint64, signer types.Address) (extrinsicHex string, err error)
}

func NewSubstrateAdapter(chain types.ChainId, endpoint string, signer SubstrateSigner, confirmations uint64) *SubstrateAdapter {
	return &SubstrateAdapter{
		chain:      chain,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		confirmReq: confirmations,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *SubstrateAdapter) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("chainadapter: substrate encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chainadapter: substrate build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrTransientNetwork, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrTransientNetwork, err)
	}
	if rpcResp.Error != nil {
		return classifySubstrateRPCErr(rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%w: decoding result: %v", ErrTransientNetwork, err)
		}
	}
	return nil
}

// classifySubstrateRPCErr maps a JSON-RPC error message to a sentinel kind.
// The substrate runtime surfaces bad-nonce and invalid-transaction errors
// as plain strings rather than structured codes, so this matches on
// substring the same way the EVM adapter matches go-ethereum's error
// strings.
func classifySubstrateRPCErr(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "stale") || strings.Contains(lower, "already in pool"):
		return fmt.Errorf("%w: %s", ErrNonceAlreadyUsed, msg)
	case strings.Contains(lower, "invalid transaction") || strings.Contains(lower, "bad signature"):
		return fmt.Errorf("%w: %s", ErrPermanentRejection, msg)
	default:
		return fmt.Errorf("%w: %s", ErrTransientNetwork, msg)
	}
}

func (a *SubstrateAdapter) GetNextAccountNonce(ctx context.Context, signer types.Address) (uint64, error) {
	var nonceHex string
	addr := hex.EncodeToString(signer.Bytes[:32])
	if err := a.call(ctx, "system_accountNextIndex", []interface{}{"0x" + addr}, &nonceHex); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(nonceHex, "0x"), 10, 64)
	if err != nil {
		// system_accountNextIndex returns a plain decimal number, not hex.
		if v, ferr := strconv.ParseUint(nonceHex, 10, 64); ferr == nil {
			return v, nil
		}
		return 0, fmt.Errorf("chainadapter: substrate parse nonce %q: %w", nonceHex, err)
	}
	return n, nil
}

func (a *SubstrateAdapter) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	var header struct {
		Number string `json:"number"`
	}
	if err := a.call(ctx, "chain_getHeader", nil, &header); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(header.Number, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("chainadapter: substrate parse block number %q: %w", header.Number, err)
	}
	return n, nil
}

func (a *SubstrateAdapter) Submit(ctx context.Context, step *plan.ExecutionStep, nonce uint64, signer types.Address) (TxHandle, error) {
	extrinsic, err := a.signer.SignExtrinsic(step, nonce, signer)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainadapter: substrate sign: %w", err)
	}

	var txHash string
	if err := a.call(ctx, "author_submitExtrinsic", []interface{}{extrinsic}, &txHash); err != nil {
		return TxHandle{}, err
	}
	return TxHandle{TxHash: txHash, Nonce: nonce}, nil
}

// substrateTxStatus mirrors the subset of author_submitAndWatchExtrinsic /
// system_dryRun states this adapter distinguishes. A production
// implementation would keep the subscription open; this core polls
// chain_getBlock against the tracked hash instead, consistent with the
// Driver Loop's poll-based model.
type substrateTxStatus struct {
	InBlock   bool
	Finalized bool
	Dropped   bool
}

func (a *SubstrateAdapter) Poll(ctx context.Context, handle TxHandle) (PollResult, error) {
	var finalizedHash string
	if err := a.call(ctx, "chain_getFinalizedHead", nil, &finalizedHash); err != nil {
		return PollResult{}, err
	}

	var found struct {
		Block struct {
			Header struct {
				Number string `json:"number"`
			} `json:"header"`
			Extrinsics []string `json:"extrinsics"`
		} `json:"block"`
	}
	if err := a.call(ctx, "chain_getBlock", []interface{}{finalizedHash}, &found); err != nil {
		return PollResult{}, err
	}

	for _, ext := range found.Block.Extrinsics {
		if ext == handle.TxHash {
			blockNum, _ := strconv.ParseUint(strings.TrimPrefix(found.Block.Header.Number, "0x"), 16, 64)
			return PollResult{
				Status:          PollFinalized,
				Block:           blockNum,
				EffectiveOutput: types.ZeroAmount(),
			}, nil
		}
	}

	return PollResult{Status: PollPending}, nil
}

// PollDestination checks a destination parachain's adapter for arrival of
// the XCM message identified by messageIdentity, derived from the source
// extrinsic's emitted XcmpMessageSent event.
func (a *SubstrateAdapter) PollDestination(ctx context.Context, destChain types.ChainId, messageIdentity string) (DestPollResult, error) {
	var events []struct {
		Section string `json:"section"`
		Method  string `json:"method"`
		Data    []string `json:"data"`
	}
	if err := a.call(ctx, "state_getStorage", []interface{}{"0x" + systemEventsStorageKey}, &events); err != nil {
		return DestPollResult{}, err
	}
	for _, e := range events {
		if e.Section == "xcmpQueue" && e.Method == "Success" && len(e.Data) > 0 && e.Data[0] == messageIdentity {
			amount := types.ZeroAmount()
			if len(e.Data) > 1 {
				if parsed, ok := parseSubstrateAmountHex(e.Data[1]); ok {
					amount = parsed
				}
			}
			return DestPollResult{Status: DestArrived, AmountReceived: amount}, nil
		}
	}
	return DestPollResult{Status: DestPending}, nil
}

// parseSubstrateAmountHex decodes a "0x"-prefixed big-endian hex-encoded
// balance, the form the xcmpQueue.Success event carries its transferred
// amount in alongside the message hash.
func parseSubstrateAmountHex(hexStr string) (types.Amount, bool) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return types.Amount{}, false
	}
	v, err := types.NewAmount(new(big.Int).SetBytes(raw))
	if err != nil {
		return types.Amount{}, false
	}
	return v, true
}

// systemEventsStorageKey is the well-known twox128("System")+twox128("Events")
// storage key prefix every Substrate runtime exposes for the system event log.
const systemEventsStorageKey = "26aa394eea5630e07c48ae0c9558cef7"
