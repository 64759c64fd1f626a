package crypto

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds accepted by a derivation, excluding
	// the bump.
	MaxSeeds = 16
	// MaxSeedLen bounds the size of every individual seed.
	MaxSeedLen = 32
)

var derivedAddressMarker = []byte("ProgramDerivedAddress")

var (
	ErrMaxSeedsExceeded      = errors.New("derive: too many seeds")
	ErrMaxSeedLengthExceeded = errors.New("derive: seed exceeds maximum length")
	ErrInvalidDerivedAddress = errors.New("derive: candidate lies on the secp256k1 curve")
	ErrNoViableBump          = errors.New("derive: unable to find a viable bump")
)

// ProgramID returns the deterministic identifier for a named native program.
func ProgramID(name string) [AddressLength]byte {
	var id [AddressLength]byte
	digest := ethcrypto.Keccak256([]byte("program:"), []byte(name))
	copy(id[:], digest[len(digest)-AddressLength:])
	return id
}

func checkSeeds(seeds [][]byte) error {
	if len(seeds) > MaxSeeds {
		return ErrMaxSeedsExceeded
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return fmt.Errorf("%w: seed %d has %d bytes", ErrMaxSeedLengthExceeded, i, len(seed))
		}
	}
	return nil
}

// onCurve reports whether the digest decodes as the x-coordinate of a
// compressed secp256k1 point. Such candidates could have a private key and are
// rejected as derived addresses.
func onCurve(digest []byte) bool {
	compressed := make([]byte, 0, 33)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, digest...)
	_, err := ethcrypto.DecompressPubkey(compressed)
	return err == nil
}

// CreateDerivedAddress hashes the seeds (the bump, if any, must be the final
// seed) together with the owning program identifier. Candidates that land on
// the curve are rejected with ErrInvalidDerivedAddress.
func CreateDerivedAddress(program [AddressLength]byte, seeds ...[]byte) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	if len(seeds) > MaxSeeds+1 {
		return out, ErrMaxSeedsExceeded
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return out, fmt.Errorf("%w: seed %d has %d bytes", ErrMaxSeedLengthExceeded, i, len(seed))
		}
	}
	parts := make([][]byte, 0, len(seeds)+2)
	parts = append(parts, seeds...)
	parts = append(parts, program[:], derivedAddressMarker)
	digest := ethcrypto.Keccak256(parts...)
	if onCurve(digest) {
		return out, ErrInvalidDerivedAddress
	}
	copy(out[:], digest[len(digest)-AddressLength:])
	return out, nil
}

// FindDerivedAddress searches bumps from 255 downwards and returns the first
// off-curve address together with the bump that produced it.
func FindDerivedAddress(program [AddressLength]byte, seeds ...[]byte) ([AddressLength]byte, uint8, error) {
	if err := checkSeeds(seeds); err != nil {
		return [AddressLength]byte{}, 0, err
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateDerivedAddress(program, withBump...)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidDerivedAddress) {
			return [AddressLength]byte{}, 0, err
		}
	}
	return [AddressLength]byte{}, 0, ErrNoViableBump
}

// VerifyDerivedAddress re-derives the address from the stored bump and reports
// whether it matches addr.
func VerifyDerivedAddress(addr, program [AddressLength]byte, bump uint8, seeds ...[]byte) bool {
	if checkSeeds(seeds) != nil {
		return false
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = []byte{bump}
	derived, err := CreateDerivedAddress(program, withBump...)
	if err != nil {
		return false
	}
	return derived == addr
}
