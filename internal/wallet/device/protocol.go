package device

import "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"

// APDU classes and instructions understood by the session. The emulator
// package implements the device side of the same protocol.
const (
	CLADashboard        byte = 0xB0
	InsGetAppAndVersion byte = 0x01
	AppInfoFormat       byte = 0x01
	DashboardAppName         = "BOLOS"

	CLAEthereum        byte = 0xE0
	InsEthGetAddress   byte = 0x02
	InsEthSignTx       byte = 0x04
	InsEthGetConfig    byte = 0x06
	InsEthSignPersonal byte = 0x08

	CLASolana          byte = 0xE0
	InsSolGetPubkey    byte = 0x05
	InsSolSignMessage  byte = 0x06
	InsSolSignOffchain byte = 0x07
	SolP1NonConfirm    byte = 0x00
	SolP1Confirm       byte = 0x01
	SolP2Extend        byte = 0x01
	SolP2More          byte = 0x02

	CLABitcoin           byte = 0xE1
	InsBtcGetAddress     byte = 0x00
	InsBtcSignDigest     byte = 0x01
	InsBtcSignMessage    byte = 0x02
	BitcoinSchemeECDSA   byte = 0x00
	BitcoinSchemeSchnorr byte = 0x01

	P1FirstChunk      byte = 0x00
	P1NextChunk       byte = 0x80
	P1ConfirmOnDevice byte = 0x01
)

// Bitcoin address formats selected through P2 of InsBtcGetAddress.
const (
	BtcFormatLegacy  byte = 0x00
	BtcFormatSegwit  byte = 0x02
	BtcFormatTaproot byte = 0x03
)

// appNames lists the dashboard names accepted for each chain app.
var appNames = map[chain.Chain][]string{
	chain.EVM:     {"Ethereum"},
	chain.Bitcoin: {"Bitcoin", "Bitcoin Test"},
	chain.Solana:  {"Solana"},
}

// AppNames returns the application names that serve chain c.
func AppNames(c chain.Chain) []string {
	return appNames[c]
}

// EncodeBitcoinDigest builds the payload SignTransaction expects for
// Bitcoin: the signature scheme followed by the 32 byte sighash.
func EncodeBitcoinDigest(scheme byte, digest []byte) []byte {
	out := make([]byte, 0, 1+len(digest))
	out = append(out, scheme)
	return append(out, digest...)
}
