package device

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// Status words reported by Ledger firmware and apps.
const (
	SWOK                   uint16 = 0x9000
	SWUserRejected         uint16 = 0x6985
	SWDeviceLocked         uint16 = 0x5515
	SWSecurityStatus       uint16 = 0x6982
	SWClaNotSupported      uint16 = 0x6E00
	SWInsNotSupported      uint16 = 0x6D00
	SWAppNotOpen           uint16 = 0x6E01
	SWAppNotFound          uint16 = 0x6511
	SWInvalidData          uint16 = 0x6A80
	SWInvalidP1P2Data      uint16 = 0x6A87
	SWWrongLength          uint16 = 0x6700
	SWWrongP1P2            uint16 = 0x6B00
	SWReferencedDataAbsent uint16 = 0x6A84
)

// statusKinds is the single source of truth for status word classification.
var statusKinds = map[uint16]walleterr.Kind{
	SWUserRejected:         walleterr.KindUserRejected,
	SWDeviceLocked:         walleterr.KindDeviceLocked,
	SWSecurityStatus:       walleterr.KindDeviceLocked,
	SWClaNotSupported:      walleterr.KindWrongAppOpen,
	SWInsNotSupported:      walleterr.KindWrongAppOpen,
	SWAppNotOpen:           walleterr.KindWrongAppOpen,
	SWAppNotFound:          walleterr.KindWrongAppOpen,
	SWInvalidData:          walleterr.KindInvalidPayload,
	SWInvalidP1P2Data:      walleterr.KindInvalidPayload,
	SWWrongLength:          walleterr.KindInvalidPayload,
	SWWrongP1P2:            walleterr.KindInvalidPayload,
	SWReferencedDataAbsent: walleterr.KindInvalidPayload,
}

// StatusKind returns the error kind for a status word. Unmapped words are
// KindUnknown; SWOK is not an error and also reports KindUnknown.
func StatusKind(sw uint16) walleterr.Kind {
	if kind, ok := statusKinds[sw]; ok {
		return kind
	}
	return walleterr.KindUnknown
}

func classifyStatus(op string, sw uint16) error {
	return walleterr.FromStatus(StatusKind(sw), op, sw)
}
