package device

import (
	"encoding/binary"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
)

const (
	// maxAPDUData is the largest data field a short APDU can carry.
	maxAPDUData = 255
)

// command is a short ISO 7816-4 APDU.
type command struct {
	cla  byte
	ins  byte
	p1   byte
	p2   byte
	data []byte
}

func (c command) encode() ([]byte, error) {
	if len(c.data) > maxAPDUData {
		return nil, errors.Errorf("apdu data too long: %d bytes", len(c.data))
	}
	apdu := make([]byte, 0, 5+len(c.data))
	apdu = append(apdu, c.cla, c.ins, c.p1, c.p2, byte(len(c.data)))
	apdu = append(apdu, c.data...)
	return apdu, nil
}

// splitStatus separates the payload of a reply from its status word.
func splitStatus(reply []byte) ([]byte, uint16, error) {
	if len(reply) < 2 {
		return nil, 0, walleterr.New(walleterr.KindInvalidPayload, "apdu", "reply of %d bytes lacks status word", len(reply))
	}
	n := len(reply) - 2
	return reply[:n], binary.BigEndian.Uint16(reply[n:]), nil
}

// exchange sends cmd and returns the reply payload, mapping non-OK status
// words and transport failures into tagged errors.
func exchange(t Transport, op string, cmd command) ([]byte, error) {
	apdu, err := cmd.encode()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	reply, err := t.Exchange(apdu)
	if err != nil {
		var werr *walleterr.Error
		if errors.As(err, &werr) {
			return nil, err
		}
		return nil, walleterr.Wrap(walleterr.KindDeviceDisconnected, op, err)
	}

	data, sw, err := splitStatus(reply)
	if err != nil {
		return nil, err
	}
	if sw != SWOK {
		return nil, classifyStatus(op, sw)
	}
	return data, nil
}

// EncodePath serializes a derivation path the way Ledger apps expect it: one
// length byte followed by big-endian components.
func EncodePath(indices []uint32) []byte {
	out := make([]byte, 1+4*len(indices))
	out[0] = byte(len(indices))
	for i, component := range indices {
		binary.BigEndian.PutUint32(out[1+4*i:], component)
	}
	return out
}

// DecodePath is the inverse of EncodePath. It returns the path and the bytes
// that follow it.
func DecodePath(data []byte) ([]uint32, []byte, error) {
	if len(data) < 1 {
		return nil, nil, errors.New("missing path length")
	}
	n := int(data[0])
	if n == 0 || n > 10 || len(data) < 1+4*n {
		return nil, nil, errors.Errorf("invalid path length %d", n)
	}
	indices := make([]uint32, n)
	for i := range indices {
		indices[i] = binary.BigEndian.Uint32(data[1+4*i:])
	}
	return indices, data[1+4*n:], nil
}

// lengthPrefixed reads a one byte length followed by that many bytes.
func lengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) < 1 || len(data) < 1+int(data[0]) {
		return nil, nil, errors.New("truncated length-prefixed field")
	}
	n := int(data[0])
	return data[1 : 1+n], data[1+n:], nil
}
