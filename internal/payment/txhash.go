package payment

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Chains on which package payments may settle.
var supportedChains = map[string]struct{}{
	"polygon":  {},
	"base":     {},
	"arbitrum": {},
	"ethereum": {},
}

// ErrInvalidTxHash is returned for malformed settlement transaction hashes.
var ErrInvalidTxHash = &Error{Code: CodeInvalidOrder, Message: "invalid transaction hash"}

// SupportedChain reports whether chain is a known settlement chain.
func SupportedChain(chain string) bool {
	_, ok := supportedChains[strings.ToLower(strings.TrimSpace(chain))]
	return ok
}

// ValidateTxHash checks that hash is a 0x-prefixed 32-byte EVM transaction
// hash. chain may be empty when unknown; a non-empty unsupported chain is
// rejected.
func ValidateTxHash(chain, hash string) error {
	if chain != "" && !SupportedChain(chain) {
		return ErrInvalidTxHash.WithMessage("unsupported chain " + chain)
	}
	b, err := hexutil.Decode(hash)
	if err != nil {
		return ErrInvalidTxHash.Wrap(err)
	}
	if len(b) != common.HashLength {
		return ErrInvalidTxHash
	}
	return nil
}

// ValidateWalletAddress reports whether addr is a hex EVM account address.
func ValidateWalletAddress(addr string) bool {
	return common.IsHexAddress(addr)
}
