package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	reply  []byte
	err    error
	sent   [][]byte
	closed bool
}

func (t *scriptedTransport) Exchange(apdu []byte) ([]byte, error) {
	t.sent = append(t.sent, apdu)
	return t.reply, t.err
}

func (t *scriptedTransport) Close() error {
	t.closed = true
	return nil
}

func TestStatusKindTable(t *testing.T) {
	tests := []struct {
		sw   uint16
		want walleterr.Kind
	}{
		{0x6985, walleterr.KindUserRejected},
		{0x5515, walleterr.KindDeviceLocked},
		{0x6982, walleterr.KindDeviceLocked},
		{0x6E00, walleterr.KindWrongAppOpen},
		{0x6D00, walleterr.KindWrongAppOpen},
		{0x6E01, walleterr.KindWrongAppOpen},
		{0x6511, walleterr.KindWrongAppOpen},
		{0x6A80, walleterr.KindInvalidPayload},
		{0x6A87, walleterr.KindInvalidPayload},
		{0x6700, walleterr.KindInvalidPayload},
		{0x6B00, walleterr.KindInvalidPayload},
		{0x6A84, walleterr.KindInvalidPayload},
		{0x6F00, walleterr.KindUnknown},
		{0x1234, walleterr.KindUnknown},
	}

	require.Len(t, statusKinds, 12, "every mapped status word must be covered above")

	for _, tt := range tests {
		assert.Equalf(t, tt.want, StatusKind(tt.sw), "status 0x%04X", tt.sw)
	}
}

func TestExchangeClassifiesStatusWords(t *testing.T) {
	for sw, kind := range statusKinds {
		tr := &scriptedTransport{reply: []byte{byte(sw >> 8), byte(sw)}}
		_, err := exchange(tr, "op", command{cla: CLAEthereum, ins: InsEthGetAddress})
		require.Error(t, err)
		assert.Equal(t, kind, walleterr.KindOf(err))

		got, ok := walleterr.StatusWordOf(err)
		require.True(t, ok)
		assert.Equal(t, sw, got)
	}
}

func TestExchangeUnknownStatusKeepsCode(t *testing.T) {
	tr := &scriptedTransport{reply: []byte{0x6F, 0x42}}
	_, err := exchange(tr, "op", command{cla: CLAEthereum})
	require.Error(t, err)
	assert.Equal(t, walleterr.KindUnknown, walleterr.KindOf(err))
	assert.Contains(t, err.Error(), "0x6F42")
}

func TestExchangeTransportFailureIsDisconnect(t *testing.T) {
	tr := &scriptedTransport{err: errors.New("usb: device gone")}
	_, err := exchange(tr, "op", command{cla: CLAEthereum})
	assert.True(t, walleterr.Is(err, walleterr.KindDeviceDisconnected))
}

func TestExchangeReturnsPayload(t *testing.T) {
	tr := &scriptedTransport{reply: []byte{0xAA, 0xBB, 0x90, 0x00}}
	data, err := exchange(tr, "op", command{cla: 0xE0, ins: 0x02, p1: 0x01, p2: 0x00, data: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, data)
	assert.Equal(t, []byte{0xE0, 0x02, 0x01, 0x00, 0x01, 0x01}, tr.sent[0])

	_, err = exchange(tr, "op", command{data: bytes.Repeat([]byte{0}, 256)})
	assert.True(t, walleterr.Is(err, walleterr.KindInvalidPayload))

	tr.reply = []byte{0x90}
	_, err = exchange(tr, "op", command{})
	assert.True(t, walleterr.Is(err, walleterr.KindInvalidPayload))
}

func TestPathEncoding(t *testing.T) {
	in := []uint32{0x8000002C, 0x8000003C, 0x80000000, 0, 7}
	encoded := EncodePath(in)
	assert.Len(t, encoded, 21)
	assert.Equal(t, byte(5), encoded[0])

	out, rest, err := DecodePath(append(encoded, 0xFF))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, []byte{0xFF}, rest)

	_, _, err = DecodePath([]byte{3, 0, 0})
	assert.Error(t, err)
}
