package device

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// DefaultSpeculosAddr is the APDU port of a locally running Speculos emulator.
const DefaultSpeculosAddr = "127.0.0.1:9999"

// TCPOpener connects to the APDU socket of a Speculos emulator. Each APDU is
// sent with a four byte big-endian length prefix; the reply carries the
// length of its data followed by the data and the status word.
type TCPOpener struct {
	Addr string
}

func (o TCPOpener) Open(ctx context.Context) (Transport, error) {
	addr := o.Addr
	if addr == "" {
		addr = DefaultSpeculosAddr
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	return &tcpTransport{conn: conn}, nil
}

type tcpTransport struct {
	mu   sync.Mutex
	conn net.Conn
}

func (t *tcpTransport) Exchange(apdu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := make([]byte, 4, 4+len(apdu))
	binary.BigEndian.PutUint32(msg, uint32(len(apdu))) //nolint:gosec // APDUs are at most 260 bytes
	msg = append(msg, apdu...)
	if _, err := t.conn.Write(msg); err != nil {
		return nil, errors.Wrap(err, "failed to write APDU")
	}

	var header [4]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read reply length")
	}
	reply := make([]byte, binary.BigEndian.Uint32(header[:])+2)
	if _, err := io.ReadFull(t.conn, reply); err != nil {
		return nil, errors.Wrap(err, "failed to read reply")
	}
	return reply, nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
