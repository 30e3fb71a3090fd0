// Package types common chain types shared by the scanner and publisher services.
package types

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event is a chain event emitted while executing a block. TxHash identifies the extrinsic that produced the
// event, if any.
type Event struct {
	Section string          `json:"section"`
	Method  string          `json:"method"`
	TxHash  string          `json:"txHash,omitempty"`
	Index   int             `json:"index"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Name returns the qualified event name "section.method".
func (e Event) Name() string {
	return e.Section + "." + e.Method
}

// Block contains a simplified list of block fields. Events are fetched separately and attached by the scanner.
type Block struct {
	Number uint64  `json:"number"`
	Hash   string  `json:"hash"`
	PHash  string  `json:"parentHash"`
	Events []Event `json:"events,omitempty"`
}

// CapacityInfo is a snapshot of a provider's capacity ledger as seen at CurrentBlockNumber.
type CapacityInfo struct {
	ProviderID          string `json:"providerId"`
	CurrentEpoch        uint64 `json:"currentEpoch"`
	CurrentBlockNumber  uint64 `json:"currentBlockNumber"`
	NextEpochStart      uint64 `json:"nextEpochStart"`
	RemainingCapacity   uint64 `json:"remainingCapacity"`
	TotalCapacityIssued uint64 `json:"totalCapacityIssued"`
}

// BlocksUntilNextEpoch returns how many blocks are left until capacity renews.
func (c CapacityInfo) BlocksUntilNextEpoch() uint64 {
	if c.NextEpochStart <= c.CurrentBlockNumber {
		return 0
	}

	return c.NextEpochStart - c.CurrentBlockNumber
}

// Call is a single chain call. Args are encoded by the node façade; the gateway never inspects them.
type Call struct {
	Pallet string          `json:"pallet"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// TxReq is the payload of a publisher job. When IdempotencyKey is set it is used as the job id instead of the
// content hash of the request.
type TxReq struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	ReferenceID    string `json:"referenceId,omitempty"`
	Calls          []Call `json:"calls"`
	SuccessEvent   string `json:"successEvent,omitempty"` // section.method confirming the request
}

// Mortality is the block range during which a submitted transaction remains valid.
type Mortality struct {
	Birth uint64 `json:"birth"`
	Death uint64 `json:"death"`
}

// SubmitResult is returned by the chain after a call or batch has been accepted. BlockNumber is 0 when the
// transport does not report the block the transaction was built against.
type SubmitResult struct {
	TxHash      string     `json:"txHash"`
	BlockNumber uint64     `json:"blockNumber,omitempty"`
	Mortality   *Mortality `json:"mortality,omitempty"`
}

// DefaultSuccessEvent confirms a transaction when the request does not name a more specific event.
const DefaultSuccessEvent = "system.ExtrinsicSuccess"

// CapacityFeeRejection is the message reported by the chain when a provider cannot pay a call with capacity.
const CapacityFeeRejection = "1010: Invalid Transaction: Inability to pay some fees"

// IsZeroHash reports whether h is empty or made only of zeroes, which chains return for blocks not yet produced.
func IsZeroHash(h string) bool {
	h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")

	return strings.Trim(h, "0") == ""
}

// Error codes.
var (
	ErrNoBlock       = errors.New("block not available yet")
	ErrNonceConflict = errors.New("nonce conflict: transaction priority too low or outdated")
	ErrNotConnected  = errors.New("chain client not connected")
	ErrNoCalls       = errors.New("request does not contain any call")
)
