// Copyright 2025 Certen Protocol
//
// FakeAdapter is a deterministic in-memory Adapter used by the Driver
// Loop's tests: it never touches the network and
// lets a test script tell it exactly when a submitted step should be
// observed Included, Finalized, or Dropped.

package chainadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/certen/independant-validator/pkg/plan"
	"github.com/certen/independant-validator/pkg/types"
)

// FakeAdapter implements Adapter and CrossChainSourceAdapter. Submit
// succeeds unless a test scripted an error for the step, and assigns a
// deterministic hash derived from (step id, nonce),
// matching the real adapters' double-submission tolerance: calling Submit
// twice at the same nonce for the same step yields the same TxHandle.
type FakeAdapter struct {
	mu sync.Mutex

	nextNonce  map[string]uint64 // signer hex -> nonce
	block      uint64
	results    map[string]PollResult     // tx hash -> scripted poll result
	destResult map[string]DestPollResult // message identity -> scripted result
	submitErr  map[string]error          // step id hex -> forced Submit error
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		nextNonce:  make(map[string]uint64),
		results:    make(map[string]PollResult),
		destResult: make(map[string]DestPollResult),
		submitErr:  make(map[string]error),
	}
}

// SetBlock advances the adapter's notion of the current block height.
func (f *FakeAdapter) SetBlock(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = n
}

// ScriptPoll arranges for Poll(handle) to return result once handle is
// produced by Submit for txHash.
func (f *FakeAdapter) ScriptPoll(txHash string, result PollResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[txHash] = result
}

// ScriptDestination arranges for PollDestination(messageIdentity) to
// return result.
func (f *FakeAdapter) ScriptDestination(messageIdentity string, result DestPollResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destResult[messageIdentity] = result
}

// ScriptSubmitError forces Submit for the given step id to fail with err
// until cleared (pass nil to clear).
func (f *FakeAdapter) ScriptSubmitError(stepID types.StepId, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stepID.String()
	if err == nil {
		delete(f.submitErr, key)
		return
	}
	f.submitErr[key] = err
}

func (f *FakeAdapter) GetNextAccountNonce(ctx context.Context, signer types.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextNonce[signer.Hex()], nil
}

func (f *FakeAdapter) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *FakeAdapter) Submit(ctx context.Context, step *plan.ExecutionStep, nonce uint64, signer types.Address) (TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.submitErr[step.Id.String()]; ok && err != nil {
		return TxHandle{}, err
	}

	hash := fmt.Sprintf("0xfake-%s-%d", step.Id, nonce)
	if n := f.nextNonce[signer.Hex()]; nonce >= n {
		f.nextNonce[signer.Hex()] = nonce + 1
	}
	return TxHandle{TxHash: hash, Nonce: nonce}, nil
}

func (f *FakeAdapter) Poll(ctx context.Context, handle TxHandle) (PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[handle.TxHash]; ok {
		return r, nil
	}
	return PollResult{Status: PollPending}, nil
}

func (f *FakeAdapter) PollDestination(ctx context.Context, destChain types.ChainId, messageIdentity string) (DestPollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.destResult[messageIdentity]; ok {
		return r, nil
	}
	return DestPollResult{Status: DestPending}, nil
}

var (
	_ Adapter                 = (*FakeAdapter)(nil)
	_ CrossChainSourceAdapter = (*FakeAdapter)(nil)
)
