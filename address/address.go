// Package address provides the Address type, used to represent the address of a MongoDB server.
package address

import (
	"net"
	"strings"
)

// Address is a network address for a server. It can be a TCP name/IP address
// or a Unix domain socket path.
type Address string

// Network is the network type for this address. It is one of "unix" or "tcp".
func (a Address) Network() string {
	if strings.HasSuffix(string(a), ".sock") {
		return "unix"
	}
	return "tcp"
}

// String returns the string representation of this address.
func (a Address) String() string {
	if len(a) == 0 {
		return "localhost:27017"
	}
	s := string(a)
	if a.Network() != "unix" {
		_, _, err := net.SplitHostPort(s)
		if err != nil && strings.Contains(err.Error(), "missing port") {
			s += ":27017"
		}
	}
	return s
}

// Canonicalize creates a canonicalized address. Currently, this lowercases the address since hostnames are
// case-insensitive. In the future, this will also resolve SRV records if necessary.
func (a Address) Canonicalize() Address {
	return Address(strings.ToLower(a.String()))
}
