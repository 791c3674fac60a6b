package wallet

import (
	"encoding/hex"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
)

// AddressInfo is the printable form of a device derived address.
type AddressInfo struct {
	Chain     chain.Chain `json:"chain"`
	Path      string      `json:"path"`
	Address   string      `json:"address"`
	PublicKey string      `json:"publicKey,omitempty"`
}

// ProbeResult reports what the device is doing right now.
type ProbeResult struct {
	Transport string       `json:"transport"`
	State     string       `json:"state"`
	App       string       `json:"app"`
	Version   string       `json:"version"`
	Chain     chain.Chain  `json:"chain,omitempty"`
	Address   *AddressInfo `json:"address,omitempty"`
}

// AddressInfoFromDevice converts a device address for output.
func AddressInfoFromDevice(a *device.Address) *AddressInfo {
	if a == nil {
		return nil
	}
	return &AddressInfo{
		Chain:     a.Chain,
		Path:      a.Path,
		Address:   a.Address,
		PublicKey: hex.EncodeToString(a.PublicKey),
	}
}
