package ice

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"
	"github.com/wlynxg/anet"
)

type NetOption func(*Net) error

// NetRecvBufferSize sets the receive buffer size of UDP sockets opened by the
// Net.
func NetRecvBufferSize(size int) NetOption {
	return func(n *Net) error {
		if size <= 0 {
			return fmt.Errorf("invalid receive buffer size: %v", size)
		}
		n.recvBufferSize = size
		return nil
	}
}

// Net is a [transport.Net] on the host network stack. Interfaces are
// enumerated with anet, which also works on Android where net.Interfaces is
// restricted. Dialing, resolving and TCP are left to [stdnet.Net].
type Net struct {
	*stdnet.Net

	lock       sync.RWMutex
	interfaces []*transport.Interface

	// 0 keeps the system default
	recvBufferSize int
}

func NewNet(opts ...NetOption) (*Net, error) {
	n := &Net{
		// the zero stdnet.Net is usable, its own interface list is never read
		Net:        &stdnet.Net{},
		interfaces: []*transport.Interface{},
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, n.UpdateInterfaces()
}

// UpdateInterfaces reloads the interface list.
func (n *Net) UpdateInterfaces() error {
	ifaces, err := anet.Interfaces()
	if err != nil {
		return err
	}
	list := make([]*transport.Interface, 0, len(ifaces))
	for i := range ifaces {
		addrs, err := anet.InterfaceAddrsByInterface(&ifaces[i])
		if err != nil {
			return fmt.Errorf("interface %v: %w", ifaces[i].Name, err)
		}
		ifc := transport.NewInterface(ifaces[i])
		for _, addr := range addrs {
			ifc.AddAddress(addr)
		}
		list = append(list, ifc)
	}

	n.lock.Lock()
	defer n.lock.Unlock()
	n.interfaces = list
	return nil
}

func (n *Net) Interfaces() ([]*transport.Interface, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return slices.Clone(n.interfaces), nil
}

func (n *Net) interfaceBy(match func(*transport.Interface) bool) (*transport.Interface, bool) {
	n.lock.RLock()
	defer n.lock.RUnlock()
	i := slices.IndexFunc(n.interfaces, match)
	if i < 0 {
		return nil, false
	}
	return n.interfaces[i], true
}

func (n *Net) InterfaceByIndex(index int) (*transport.Interface, error) {
	ifc, ok := n.interfaceBy(func(ifc *transport.Interface) bool { return ifc.Index == index })
	if !ok {
		return nil, fmt.Errorf("%w: index=%d", transport.ErrInterfaceNotFound, index)
	}
	return ifc, nil
}

func (n *Net) InterfaceByName(name string) (*transport.Interface, error) {
	ifc, ok := n.interfaceBy(func(ifc *transport.Interface) bool { return ifc.Name == name })
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrInterfaceNotFound, name)
	}
	return ifc, nil
}

// setRecvBuffer applies the receive buffer size to a freshly opened UDP
// socket and closes it on failure.
func (n *Net) setRecvBuffer(conn *net.UDPConn) error {
	if n.recvBufferSize == 0 {
		return nil
	}
	if err := conn.SetReadBuffer(n.recvBufferSize); err != nil {
		return fmt.Errorf("failed to set receive buffer size: %w", errors.Join(err, conn.Close()))
	}
	return nil
}

func (n *Net) ListenUDP(network string, laddr *net.UDPAddr) (transport.UDPConn, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	if err = n.setRecvBuffer(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func (n *Net) DialUDP(network string, laddr, raddr *net.UDPAddr) (transport.UDPConn, error) {
	conn, err := net.DialUDP(network, laddr, raddr)
	if err != nil {
		return nil, err
	}
	if err = n.setRecvBuffer(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

func (n *Net) ListenPacket(network string, address string) (net.PacketConn, error) {
	pc, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	if conn, ok := pc.(*net.UDPConn); ok {
		if err = n.setRecvBuffer(conn); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
