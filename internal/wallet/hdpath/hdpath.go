package hdpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// HardenedOffset is added to hardened path components.
const HardenedOffset uint32 = 0x80000000

const (
	PurposeBIP44 uint32 = 44
	PurposeBIP84 uint32 = 84
	PurposeBIP86 uint32 = 86

	CoinTypeBitcoin        uint32 = 0
	CoinTypeBitcoinTestnet uint32 = 1
	CoinTypeEthereum       uint32 = 60
	CoinTypeSolana         uint32 = 501
)

// Grammars per chain. The optional "m/" prefix is stripped before matching.
var grammars = map[chain.Chain]*regexp.Regexp{
	chain.EVM:     regexp.MustCompile(`^44'/60'/\d+'/\d+/\d+$`),
	chain.Solana:  regexp.MustCompile(`^44'/501'/\d+'/\d+'$`),
	chain.Bitcoin: regexp.MustCompile(`^(44|84|86)'/(0|1)'/\d+'/(0|1)/\d+$`),
}

// AddressType is the Bitcoin script type implied by a path purpose.
type AddressType int

const (
	AddressTypeUnknown AddressType = iota
	AddressTypeP2PKH
	AddressTypeP2WPKH
	AddressTypeP2TR
)

func (t AddressType) String() string {
	switch t {
	case AddressTypeP2PKH:
		return "p2pkh"
	case AddressTypeP2WPKH:
		return "p2wpkh"
	case AddressTypeP2TR:
		return "p2tr"
	default:
		return "unknown"
	}
}

// DerivationPath is a validated BIP-32 path bound to the chain whose grammar
// it satisfies.
type DerivationPath struct {
	chain   chain.Chain
	indices []uint32
}

// Parse validates s against the grammar of c.
func Parse(c chain.Chain, s string) (DerivationPath, error) {
	grammar, ok := grammars[c]
	if !ok {
		return DerivationPath{}, walleterr.New(walleterr.KindInvalidPath, "path.parse", "unsupported chain %q", c)
	}

	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "m/")
	if !grammar.MatchString(raw) {
		return DerivationPath{}, walleterr.New(walleterr.KindInvalidPath, "path.parse", "path %q does not match %s grammar", s, c)
	}

	parts := strings.Split(raw, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")

		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || uint32(n) >= HardenedOffset {
			return DerivationPath{}, walleterr.New(walleterr.KindInvalidPath, "path.parse", "path component %q out of range", part)
		}

		index := uint32(n)
		if hardened {
			index += HardenedOffset
		}
		indices = append(indices, index)
	}

	return DerivationPath{chain: c, indices: indices}, nil
}

// MustParse is Parse for package-level defaults and tests.
func MustParse(c chain.Chain, s string) DerivationPath {
	p, err := Parse(c, s)
	if err != nil {
		panic(err)
	}
	return p
}

// Default returns the first account path for c. Bitcoin defaults to native
// segwit on mainnet.
func Default(c chain.Chain) DerivationPath {
	switch c {
	case chain.EVM:
		return MustParse(c, "44'/60'/0'/0/0")
	case chain.Solana:
		return MustParse(c, "44'/501'/0'/0'")
	case chain.Bitcoin:
		return MustParse(c, "84'/0'/0'/0/0")
	default:
		return DerivationPath{}
	}
}

// Chain returns the chain whose grammar the path satisfies.
func (p DerivationPath) Chain() chain.Chain {
	return p.chain
}

// Indices returns a copy of the raw path components.
func (p DerivationPath) Indices() []uint32 {
	out := make([]uint32, len(p.indices))
	copy(out, p.indices)
	return out
}

// IsZero reports whether p was never parsed.
func (p DerivationPath) IsZero() bool {
	return len(p.indices) == 0
}

func (p DerivationPath) String() string {
	var sb strings.Builder
	sb.WriteString("m")
	for _, index := range p.indices {
		if index >= HardenedOffset {
			fmt.Fprintf(&sb, "/%d'", index-HardenedOffset)
		} else {
			fmt.Fprintf(&sb, "/%d", index)
		}
	}
	return sb.String()
}

// Purpose returns the unhardened purpose component.
func (p DerivationPath) Purpose() uint32 {
	if len(p.indices) == 0 {
		return 0
	}
	return p.indices[0] &^ HardenedOffset
}

// CoinType returns the unhardened coin type component.
func (p DerivationPath) CoinType() uint32 {
	if len(p.indices) < 2 {
		return 0
	}
	return p.indices[1] &^ HardenedOffset
}

// AddressType maps a Bitcoin path purpose to its script type.
func (p DerivationPath) AddressType() AddressType {
	if p.chain != chain.Bitcoin {
		return AddressTypeUnknown
	}
	switch p.Purpose() {
	case PurposeBIP44:
		return AddressTypeP2PKH
	case PurposeBIP84:
		return AddressTypeP2WPKH
	case PurposeBIP86:
		return AddressTypeP2TR
	default:
		return AddressTypeUnknown
	}
}

// Testnet reports whether a Bitcoin path uses the test network coin type.
func (p DerivationPath) Testnet() bool {
	return p.chain == chain.Bitcoin && p.CoinType() == CoinTypeBitcoinTestnet
}

// MarshalText lets paths appear as strings in logs and JSON output.
func (p DerivationPath) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
