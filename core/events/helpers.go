package events

import (
	"strconv"

	"paygate/crypto"
)

func formatAddress(addr [20]byte) string {
	return crypto.FormatAddress(addr)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
