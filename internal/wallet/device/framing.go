package device

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	hidPacketSize        = 64
	hidChannel    uint16 = 0x0101
	hidTag        byte   = 0x05
	hidHeaderSize        = 5
)

var errInvalidReplyHeader = errors.New("ledger: invalid reply header")

// wrapCommandAPDU splits an APDU into HID reports. Every report starts with
// the channel, the command tag and a sequence number; the first one also
// carries the total APDU length.
func wrapCommandAPDU(apdu []byte) [][]byte {
	payload := make([]byte, 2, 2+len(apdu))
	binary.BigEndian.PutUint16(payload, uint16(len(apdu))) //nolint:gosec // APDUs are at most 260 bytes
	payload = append(payload, apdu...)

	var packets [][]byte
	for seq := uint16(0); len(payload) > 0; seq++ {
		packet := make([]byte, hidPacketSize)
		binary.BigEndian.PutUint16(packet[0:], hidChannel)
		packet[2] = hidTag
		binary.BigEndian.PutUint16(packet[3:], seq)

		n := copy(packet[hidHeaderSize:], payload)
		payload = payload[n:]
		packets = append(packets, packet)
	}
	return packets
}

// unwrapResponseAPDU reassembles a reply from HID reports read from r. The
// returned slice still holds the status word.
func unwrapResponseAPDU(r io.Reader) ([]byte, error) {
	packet := make([]byte, hidPacketSize)

	var (
		reply    []byte
		expected int
	)
	for seq := uint16(0); ; seq++ {
		if _, err := io.ReadFull(r, packet); err != nil {
			return nil, errors.Wrap(err, "failed to read HID report")
		}
		if binary.BigEndian.Uint16(packet[0:]) != hidChannel || packet[2] != hidTag {
			return nil, errInvalidReplyHeader
		}
		if got := binary.BigEndian.Uint16(packet[3:]); got != seq {
			return nil, errors.Errorf("ledger: unexpected sequence %d, want %d", got, seq)
		}

		body := packet[hidHeaderSize:]
		if seq == 0 {
			expected = int(binary.BigEndian.Uint16(body))
			reply = make([]byte, 0, expected)
			body = body[2:]
		}

		left := expected - len(reply)
		if left <= len(body) {
			reply = append(reply, body[:left]...)
			return reply, nil
		}
		reply = append(reply, body...)
	}
}
