//go:build linux

package driver

import (
	"fmt"
	"net"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/unix"

	"github.com/pfq-io/go-pfq/internal/interfaces"
)

// AFPacket transmits frames through a raw AF_PACKET socket bound to a
// network interface. The kernel's qdisc is bypassed per frame only in
// the sense that frames go out as written; xmit-more is accepted and
// ignored, the socket has no doorbell to defer.
type AFPacket struct {
	fd      int
	name    string
	ifIndex int
	queues  int
	up      atomix.Bool
}

// NewAFPacket opens a raw socket bound to the named interface.
// Requires CAP_NET_RAW.
func NewAFPacket(ifname string, queues int) (*AFPacket, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("afpacket: %w", err)
	}
	if queues < 1 {
		queues = 1
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("afpacket: socket: %w", err)
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("afpacket: bind %s: %w", ifname, err)
	}

	a := &AFPacket{
		fd:      fd,
		name:    ifname,
		ifIndex: ifi.Index,
		queues:  queues,
	}
	a.up.Store(true)
	return a, nil
}

func (a *AFPacket) Name() string     { return a.name }
func (a *AFPacket) IfIndex() int     { return a.ifIndex }
func (a *AFPacket) NumTxQueues() int { return a.queues }
func (a *AFPacket) IsUp() bool       { return a.up.Load() }

// SelectQueue always answers 0; the kernel spreads flows itself below
// the socket.
func (a *AFPacket) SelectQueue(frame []byte) int { return 0 }

func (a *AFPacket) StartXmit(frame []byte, hwQueue int, more bool) interfaces.TxStatus {
	_ = hwQueue
	_ = more
	err := unix.Send(a.fd, frame, unix.MSG_DONTWAIT)
	switch err {
	case nil:
		return interfaces.TxOK
	case unix.EAGAIN, unix.ENOBUFS:
		return interfaces.TxBusy
	case unix.ENETDOWN, unix.ENXIO:
		a.up.Store(false)
		return interfaces.TxBusy
	default:
		return interfaces.TxBusy
	}
}

// Close shuts the socket down; subsequent submissions fail.
func (a *AFPacket) Close() error {
	a.up.Store(false)
	return unix.Close(a.fd)
}

func htons(v int) uint16 {
	return uint16(v)<<8 | uint16(v)>>8
}

// Compile-time interface check
var _ interfaces.Driver = (*AFPacket)(nil)
