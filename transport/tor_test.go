package transport

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTorDialerUsesEnvOverride(t *testing.T) {
	t.Setenv("TOR_PROXY_ADDR", "127.0.0.1:19050")
	d := NewTorDialer()
	assert.Equal(t, "127.0.0.1:19050", d.proxyAddr)
}

func TestNewTorDialerDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("TOR_PROXY_ADDR")
	d := NewTorDialer()
	assert.Equal(t, defaultTorProxyAddr, d.proxyAddr)
}

func TestDialRejectsNonOnionAddress(t *testing.T) {
	d := NewTorDialer()
	_, err := d.Dial("example.com:80")
	assert.Error(t, err)
}
