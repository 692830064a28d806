package treasury

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/agentpay/agent_pay/internal/ledger"
)

// ValidAddress reports whether the address is well formed for the chain.
// The withdrawal pipeline shares this check for worker-supplied
// destinations.
func ValidAddress(chain ledger.Chain, address string) bool {
	switch chain {
	case ledger.ChainETH:
		return validEthAddress(address)
	case ledger.ChainBTC:
		return validBtcAddress(address)
	}
	return false
}

// validEthAddress checks the 0x-prefixed 20-byte hex form and, when the
// address carries mixed case, its EIP-55 checksum.
func validEthAddress(address string) bool {
	if len(address) != 42 || !strings.HasPrefix(address, "0x") {
		return false
	}
	body := address[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return false
	}
	lower := strings.ToLower(body)
	if body == lower || body == strings.ToUpper(body) {
		// No case information, nothing to checksum.
		return true
	}
	return checksumEthAddress(lower) == body
}

func checksumEthAddress(lowerHex string) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(lowerHex))
	digest := hash.Sum(nil)

	out := []byte(lowerHex)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

const (
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	bech32Charset  = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// validBtcAddress accepts legacy base58 (1/3 prefix) and bech32 (bc1)
// shapes. Full checksum verification belongs to the custody provider; this
// guards against obviously malformed destinations.
func validBtcAddress(address string) bool {
	if len(address) < 26 {
		return false
	}
	switch {
	case strings.HasPrefix(address, "bc1"):
		if len(address) > 90 {
			return false
		}
		for _, c := range strings.ToLower(address[3:]) {
			if !strings.ContainsRune(bech32Charset, c) {
				return false
			}
		}
		return true
	case address[0] == '1' || address[0] == '3':
		if len(address) > 35 {
			return false
		}
		for _, c := range address {
			if !strings.ContainsRune(base58Alphabet, c) {
				return false
			}
		}
		return true
	}
	return false
}
