package ethernet

import (
	"github.com/pkg/errors"
	"net"
)

// Address is the interface's own network and hardware address.
type Address struct {
	IP  string
	MAC string
}

// Resolve looks up the own IPv4 (falling back to IPv6) and hardware address of
// name. Whatever could be resolved is returned alongside the error.
func Resolve(name string) (Address, error) {
	var a Address
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return a, errors.Wrapf(err, "interface %s", name)
	}
	if len(iface.HardwareAddr) > 0 {
		a.MAC = iface.HardwareAddr.String()
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return a, errors.Wrapf(err, "addresses of %s", name)
	}
	a.IP = pickIP(addrs)

	switch {
	case a.IP == "" && a.MAC == "":
		return a, errors.Errorf("no address on %s", name)
	case a.IP == "":
		return a, errors.Errorf("no ip address on %s", name)
	case a.MAC == "" && iface.Flags&net.FlagLoopback == 0:
		return a, errors.Errorf("no hardware address on %s", name)
	}
	return a, nil
}

func pickIP(addrs []net.Addr) string {
	var v6 string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
		if v6 == "" {
			v6 = ipnet.IP.String()
		}
	}
	return v6
}
