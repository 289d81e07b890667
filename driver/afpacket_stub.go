//go:build !linux

package driver

import "errors"

// AFPacket is only available on Linux.
type AFPacket struct{}

// NewAFPacket fails on non-Linux hosts.
func NewAFPacket(ifname string, queues int) (*AFPacket, error) {
	return nil, errors.New("afpacket: AF_PACKET sockets require linux")
}
