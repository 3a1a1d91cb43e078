package ethernet

import (
	"github.com/google/gopacket/pcap"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
)

// devices 设备

// pcapIfLoopback mirrors PCAP_IF_LOOPBACK from pcap.h.
const pcapIfLoopback = 0x00000001

// Device is one capturable interface.
type Device struct {
	Name     string
	IPv4     net.IP
	IPv6     net.IP
	Flags    uint32
	Loopback bool
}

// FindAll lists capture devices, non-loopback first and loopback last.
func FindAll() ([]Device, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, errors.Wrap(err, "find all devices")
	}

	out := make([]Device, 0, len(devs))
	for _, dev := range devs {
		d := Device{
			Name:  dev.Name,
			Flags: dev.Flags,
		}
		for _, addr := range dev.Addresses {
			if ip4 := addr.IP.To4(); ip4 != nil {
				if d.IPv4 == nil {
					d.IPv4 = ip4
				}
				continue
			}
			if d.IPv6 == nil {
				d.IPv6 = addr.IP
			}
		}
		d.Loopback = dev.Flags&pcapIfLoopback != 0 || isLoopbackName(dev.Name) || d.IPv4.IsLoopback()
		out = append(out, d)
	}
	return Order(out), nil
}

// Order moves loopback devices to the end, keeping relative order otherwise.
func Order(devs []Device) []Device {
	sorted := make([]Device, len(devs))
	copy(sorted, devs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return !sorted[i].Loopback && sorted[j].Loopback
	})
	return sorted
}

// Names returns the device names in order.
func Names(devs []Device) []string {
	names := make([]string, 0, len(devs))
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return names
}

func isLoopbackName(name string) bool {
	n := strings.ToLower(name)
	return n == "lo" || n == "lo0" || strings.Contains(n, "loopback")
}

// All renders the device list as a table.
func All(w io.Writer) error {
	devs, err := FindAll()
	if err != nil {
		return err
	}
	Render(w, devs)
	return nil
}

// Render writes devs as a table.
func Render(w io.Writer, devs []Device) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "IPv4", "IPv6", "Flags", "Loopback"})
	for _, dev := range devs {
		table.Append([]string{dev.Name, ipString(dev.IPv4), ipString(dev.IPv6), strconv.Itoa(int(dev.Flags)), strconv.FormatBool(dev.Loopback)})
	}
	table.Render()
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
