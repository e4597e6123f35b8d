package probe

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mysqlHandshake(version string) []byte {
	payload := append([]byte{0x0a}, version...)
	payload = append(payload, 0x00)
	// thread id, auth plugin data etc. follow in a real packet
	payload = append(payload, 0x01, 0x02, 0x03, 0x04)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	packet := append(lenBuf[:3:3], 0x00) // sequence 0
	return append(packet, payload...)
}

func TestMySQLHandshakeVersion(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write(mysqlHandshake("5.7.33-0ubuntu0.18.04.1"))
			_ = conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	version, err := mysqlHandshakeVersion(ctx, host, port)
	require.NoError(t, err)
	require.Equal(t, "5.7.33-0ubuntu0.18.04.1", version)
	require.Equal(t, "5.7.33", mysqlVersion(version))
}

func TestMySQLHandshakeRefused(t *testing.T) {
	t.Parallel()

	errPacket := []byte{0x05, 0x00, 0x00, 0x00, 0xff, 0x04, 0x10, 0x00, 0x00}
	_, err := parseMySQLHandshake(errPacket)
	require.Error(t, err)
}

func TestMySQLHandshakeMalformed(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		data     []byte
	}{
		{"empty", nil},
		{"too short", []byte{0x01, 0x00, 0x00}},
		{"zero length payload", []byte{0x00, 0x00, 0x00, 0x00, 0xff, 0x00}},
		{"no version terminator", mysqlHandshake("")[:6]},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			require.NotPanics(t, func() {
				_, err := parseMySQLHandshake(tt.data)
				require.ErrorIs(t, err, errMalformedHandshake)
			})
		})
	}
}
