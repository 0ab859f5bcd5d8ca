package utils

import (
	"net"
)

// LocalAddrs lists the addresses of the machine's non-loopback interfaces
// that are up, so players on the LAN know where to connect.
// Input: none
// Output: the IP addresses, or the error from listing the interfaces.
func LocalAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, ipnet.IP.String())
		}
	}
	return out, nil
}
