package commands

import "net"

// localController and localDialer stand in for a real Tor control
// collaborator (§6) so this demo can run two instances on one machine
// without a Tor daemon: CreateHiddenService/Listen bind a plain TCP
// socket instead of provisioning an onion service, and Dial connects to
// it directly. Swapping in transport.TorDialer and a real Tor control
// client wires the same Manager to actual hidden services.
type localController struct {
	addr string
}

func newLocalController(addr string) localController {
	return localController{addr: addr}
}

func (c localController) CreateHiddenService(identityUUID string) (string, error) {
	return c.addr, nil
}

func (localController) Listen(onionAddress string) (net.Listener, error) {
	return net.Listen("tcp", onionAddress)
}

type localDialer struct{}

func (localDialer) Dial(remoteOnionAddress string) (net.Conn, error) {
	return net.Dial("tcp", remoteOnionAddress)
}
