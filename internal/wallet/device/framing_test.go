package device

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapCommandAPDU(t *testing.T) {
	apdu := bytes.Repeat([]byte{0x11}, 130)
	packets := wrapCommandAPDU(apdu)

	// 2 length bytes + 130 data bytes over 59 usable bytes per report
	require.Len(t, packets, 3)
	for i, packet := range packets {
		assert.Len(t, packet, hidPacketSize)
		assert.Equal(t, []byte{0x01, 0x01, 0x05}, packet[:3])
		assert.Equal(t, uint16(i), binary.BigEndian.Uint16(packet[3:5])) //nolint:gosec // small test index
	}
	assert.Equal(t, uint16(130), binary.BigEndian.Uint16(packets[0][5:7]))
}

func TestUnwrapResponseAPDU(t *testing.T) {
	reply := append(bytes.Repeat([]byte{0x42}, 150), 0x90, 0x00)

	// the device frames replies the same way it receives commands
	var stream bytes.Buffer
	for _, packet := range wrapCommandAPDU(reply) {
		stream.Write(packet)
	}

	got, err := unwrapResponseAPDU(&stream)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestUnwrapRejectsBadHeader(t *testing.T) {
	packet := make([]byte, hidPacketSize)
	packet[0] = 0x02
	_, err := unwrapResponseAPDU(bytes.NewReader(packet))
	assert.ErrorIs(t, err, errInvalidReplyHeader)
}

func TestUnwrapRejectsSequenceGap(t *testing.T) {
	packets := wrapCommandAPDU(bytes.Repeat([]byte{0x01}, 100))
	binary.BigEndian.PutUint16(packets[1][3:], 5)

	var stream bytes.Buffer
	for _, packet := range packets {
		stream.Write(packet)
	}
	_, err := unwrapResponseAPDU(&stream)
	assert.Error(t, err)
}

func TestUnwrapTruncatedStream(t *testing.T) {
	packets := wrapCommandAPDU(bytes.Repeat([]byte{0x01}, 100))
	_, err := unwrapResponseAPDU(bytes.NewReader(packets[0]))
	assert.Error(t, err)
}
