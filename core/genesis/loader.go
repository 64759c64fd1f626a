package genesis

import (
	"fmt"

	"paygate/core/state"
	"paygate/native/token"
)

// Apply writes the genesis allocation into manager. Mints are created in the
// order they are declared; balances are applied in address order so the
// resulting root is deterministic.
func Apply(spec *GenesisSpec, manager *state.Manager) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	tokens := token.NewEngine()
	tokens.SetState(manager)

	for _, alloc := range spec.native {
		if err := tokens.Credit(alloc.owner, alloc.amount); err != nil {
			return fmt.Errorf("native allocation: %w", err)
		}
	}
	for i := range spec.Mints {
		mint := &spec.Mints[i]
		mintAddr, err := tokens.CreateMint(mint.authority, mint.Seed, mint.Decimals)
		if err != nil {
			return fmt.Errorf("mint %q: %w", mint.Seed, err)
		}
		for _, alloc := range mint.balances {
			account, err := tokens.CreateAssociatedAccount(alloc.owner, mintAddr)
			if err != nil {
				return fmt.Errorf("mint %q: %w", mint.Seed, err)
			}
			if alloc.amount == 0 {
				continue
			}
			if err := tokens.MintTo(mintAddr, account, mint.authority, alloc.amount); err != nil {
				return fmt.Errorf("mint %q: %w", mint.Seed, err)
			}
		}
	}
	return nil
}
