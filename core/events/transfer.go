package events

import (
	"paygate/core/types"
)

const (
	// TypeNativeTransfer is emitted for native currency balance movements.
	TypeNativeTransfer = "transfer.native"
	// TypeTokenTransfer is emitted when units move between token accounts.
	TypeTokenTransfer = "transfer.token"
	// TypeTokenMinted is emitted when new units of a mint are issued.
	TypeTokenMinted = "token.minted"
)

type NativeTransfer struct {
	From   [20]byte
	To     [20]byte
	Amount uint64
}

func (NativeTransfer) EventType() string { return TypeNativeTransfer }

func (e NativeTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeNativeTransfer,
		Attributes: map[string]string{
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatUint(e.Amount),
		},
	}
}

type TokenTransfer struct {
	Mint      [20]byte
	From      [20]byte
	To        [20]byte
	Authority [20]byte
	Amount    uint64
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"mint":      formatAddress(e.Mint),
			"from":      formatAddress(e.From),
			"to":        formatAddress(e.To),
			"authority": formatAddress(e.Authority),
			"amount":    formatUint(e.Amount),
		},
	}
}

type TokenMinted struct {
	Mint        [20]byte
	Destination [20]byte
	Amount      uint64
	Supply      uint64
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"mint":        formatAddress(e.Mint),
			"destination": formatAddress(e.Destination),
			"amount":      formatUint(e.Amount),
			"supply":      formatUint(e.Supply),
		},
	}
}
