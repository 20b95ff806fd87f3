package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectPayloadRoundTrip(t *testing.T) {
	p := &ConnectPayload{StreamType: StreamTypeTCP, Port: 443, Hostname: "buy.itunes.apple.com"}
	decoded, err := DecodeConnectPayload(p.Encode())
	require.NoError(t, err)
	require.Equal(t, p.StreamType, decoded.StreamType)
	require.Equal(t, p.Port, decoded.Port)
	require.Equal(t, p.Hostname, decoded.Hostname)
}

func TestFrameEncodeDecode(t *testing.T) {
	f := NewDataFrame(7, []byte("payload bytes"))
	decoded, err := DecodeFrame(f.Encode())
	require.NoError(t, err)
	require.Equal(t, FrameData, decoded.Type)
	require.Equal(t, uint32(7), decoded.StreamID)
	require.Equal(t, []byte("payload bytes"), decoded.Payload)
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01, 0x00})
	require.Error(t, err)
}

func TestHostnameAllowed(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"auth.itunes.apple.com", true},
		{"buy.itunes.apple.com", true},
		{"init.itunes.apple.com", true},
		{"p12-buy.itunes.apple.com", true},
		{"p999-buy.itunes.apple.com", true},
		{"evil.com", false},
		{"p12-buy.itunes.apple.com.evil.com", false},
		{"17.253.3.203", false},
		{"[::1]", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, hostnameAllowed(c.host), c.host)
	}
}
