package domain

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeInet_IPv4(t *testing.T) {
	ip := IP{Addr: net.ParseIP("10.0.0.5").To4(), Prefix: 32}
	buf := EncodeInet(ip)
	assert.Equal(t, byte(inetFamilyV4), buf[0])
	assert.Equal(t, byte(32), buf[1])
	assert.Equal(t, byte(0), buf[2])
	assert.Equal(t, byte(4), buf[3])

	got, ok := DecodeInet(buf)
	assert.True(t, ok)
	assert.True(t, bytes.Equal(got.Addr, ip.Addr))
	assert.Equal(t, ip.Prefix, got.Prefix)
}

func TestEncodeDecodeInet_IPv6CIDR(t *testing.T) {
	ip := IP{Addr: net.ParseIP("2001:db8::").To16(), Prefix: 64, CIDR: true}
	buf := EncodeInet(ip)
	assert.Equal(t, byte(inetFamilyV6), buf[0])
	assert.Equal(t, byte(1), buf[2])

	got, ok := DecodeInet(buf)
	assert.True(t, ok)
	assert.True(t, got.CIDR)
	assert.Equal(t, uint8(64), got.Prefix)
}

func TestDecodeInet_MalformedReturnsFalse(t *testing.T) {
	_, ok := DecodeInet([]byte{1, 2})
	assert.False(t, ok)

	_, ok = DecodeInet([]byte{2, 32, 0, 5, 1, 2, 3, 4}) // len byte says 5 but only 4 addr bytes follow
	assert.False(t, ok)
}

func TestEncodeMAC_PadsShortAddress(t *testing.T) {
	out := EncodeMAC([]byte{1, 2, 3})
	assert.Len(t, out, 6)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0}, out)
}
