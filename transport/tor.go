package transport

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// defaultTorProxyAddr is Tor's conventional local SOCKS5 listener.
const defaultTorProxyAddr = "127.0.0.1:9050"

// torProxyAddrEnv overrides the default SOCKS5 proxy address.
const torProxyAddrEnv = "TOR_PROXY_ADDR"

// TorDialer dials .onion addresses through a local Tor SOCKS5 proxy. It
// implements the "dial onion Y" half of the Tor control contract consumed
// by the protocol manager (§6); the corresponding "create hidden service" /
// "listen" half is delegated entirely to a HiddenServiceController this
// type does not implement.
type TorDialer struct {
	mu          sync.RWMutex
	proxyAddr   string
	socksDialer proxy.Dialer
}

// NewTorDialer creates a dialer using TOR_PROXY_ADDR, or the conventional
// 127.0.0.1:9050 if unset.
func NewTorDialer() *TorDialer {
	proxyAddr := os.Getenv(torProxyAddrEnv)
	if proxyAddr == "" {
		proxyAddr = defaultTorProxyAddr
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewTorDialer",
		"proxy_addr": proxyAddr,
	}).Info("Creating Tor SOCKS5 dialer")

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewTorDialer",
			"proxy_addr": proxyAddr,
			"error":      err.Error(),
		}).Warn("Failed to create SOCKS5 dialer, will retry on Dial")
	}

	return &TorDialer{
		proxyAddr:   proxyAddr,
		socksDialer: dialer,
	}
}

// Dial connects to a .onion address (host:port) through the Tor SOCKS5
// proxy. It satisfies the ManagerDialer interface consumed by the protocol
// manager.
func (t *TorDialer) Dial(onionAddr string) (net.Conn, error) {
	if !strings.Contains(onionAddr, ".onion") {
		return nil, fmt.Errorf("transport: invalid onion address %q (must contain .onion)", onionAddr)
	}

	t.mu.RLock()
	dialer := t.socksDialer
	proxyAddr := t.proxyAddr
	t.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function":   "TorDialer.Dial",
		"address":    onionAddr,
		"proxy_addr": proxyAddr,
	}).Debug("Dialing onion address through Tor")

	if dialer == nil {
		var err error
		dialer, err = proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("transport: SOCKS5 dialer creation failed: %w", err)
		}

		t.mu.Lock()
		t.socksDialer = dialer
		t.mu.Unlock()
	}

	conn, err := dialer.Dial("tcp", onionAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TorDialer.Dial",
			"address":  onionAddr,
			"error":    err.Error(),
		}).Error("Failed to dial onion address")
		return nil, fmt.Errorf("transport: dial %s failed: %w", onionAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "TorDialer.Dial",
		"address":     onionAddr,
		"remote_addr": conn.RemoteAddr().String(),
	}).Info("Onion connection established")

	return conn, nil
}

// HiddenServiceController is the Tor control collaborator this core
// consumes but does not implement (§1, §6): it creates a hidden service for
// a local identity and hands back a net.Listener the protocol manager binds
// to for inbound peer connections.
type HiddenServiceController interface {
	// CreateHiddenService provisions a new onion service and returns its
	// .onion address.
	CreateHiddenService(identityUUID string) (onionAddress string, err error)
	// Listen returns a net.Listener delivering accepted inbound streams
	// for the given onion address.
	Listen(onionAddress string) (net.Listener, error)
}

// ManagerDialer is the outbound half of the Tor control contract, narrowed
// to what the protocol manager actually calls. TorDialer satisfies it.
type ManagerDialer interface {
	Dial(remoteOnionAddress string) (net.Conn, error)
}
