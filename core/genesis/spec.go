package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"paygate/crypto"
)

// GenesisSpec describes the initial allocation of a fresh chain: native
// balances plus any token mints with their opening balances.
type GenesisSpec struct {
	Native map[string]uint64 `yaml:"native"`
	Mints  []MintSpec        `yaml:"mints"`

	native []allocation
}

// MintSpec creates a mint derived from Authority and Seed and funds the
// associated token accounts listed in Balances.
type MintSpec struct {
	Seed      string            `yaml:"seed"`
	Authority string            `yaml:"authority"`
	Decimals  uint8             `yaml:"decimals"`
	Balances  map[string]uint64 `yaml:"balances"`

	authority [20]byte
	balances  []allocation
}

type allocation struct {
	owner  [20]byte
	amount uint64
}

// LoadGenesisSpec reads and validates a YAML genesis file. Unknown keys are
// rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	return ParseGenesisSpec(raw)
}

// ParseGenesisSpec decodes and validates a YAML genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *GenesisSpec) validate() error {
	native, err := parseAllocations(s.Native)
	if err != nil {
		return fmt.Errorf("native: %w", err)
	}
	s.native = native

	seen := make(map[string]struct{}, len(s.Mints))
	for i := range s.Mints {
		mint := &s.Mints[i]
		if strings.TrimSpace(mint.Seed) == "" {
			return fmt.Errorf("mints[%d]: seed must be provided", i)
		}
		if len(mint.Seed) > crypto.MaxSeedLen {
			return fmt.Errorf("mints[%d]: seed exceeds %d bytes", i, crypto.MaxSeedLen)
		}
		authority, err := crypto.ParseAddress(mint.Authority)
		if err != nil {
			return fmt.Errorf("mints[%d]: authority: %w", i, err)
		}
		key := mint.Authority + "/" + mint.Seed
		if _, dup := seen[key]; dup {
			return fmt.Errorf("mints[%d]: duplicate mint %q", i, mint.Seed)
		}
		seen[key] = struct{}{}
		balances, err := parseAllocations(mint.Balances)
		if err != nil {
			return fmt.Errorf("mints[%d]: balances: %w", i, err)
		}
		mint.authority = authority
		mint.balances = balances
	}
	return nil
}

// parseAllocations decodes the address keys and returns the entries in a
// deterministic order.
func parseAllocations(in map[string]uint64) ([]allocation, error) {
	out := make([]allocation, 0, len(in))
	for raw, amount := range in {
		owner, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", raw, err)
		}
		out = append(out, allocation{owner: owner, amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].owner[:], out[j].owner[:]) < 0
	})
	return out, nil
}
