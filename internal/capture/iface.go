/**
 * Network Interface Management.
 *
 * Lists and validates network interfaces for live capture, and applies
 * heuristics to suggest a default capture target.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package capture

import (
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"
)

// Aggregates OS-level interface details for capture target selection.
type NetworkInterface struct {
	Name        string
	Description string
	Addresses   []string
	IsUp        bool
	IsLoopback  bool
}

// ListInterfaces queries the OS for all devices capable of packet
// capture.
func ListInterfaces() ([]NetworkInterface, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to find devices: %w", err)
	}

	interfaces := make([]NetworkInterface, 0, len(devices))
	for _, device := range devices {
		iface := NetworkInterface{
			Name:        device.Name,
			Description: device.Description,
			Addresses:   make([]string, 0, len(device.Addresses)),
		}

		for _, addr := range device.Addresses {
			if addr.IP != nil {
				iface.Addresses = append(iface.Addresses, addr.IP.String())
			}
		}

		if netIface, err := net.InterfaceByName(device.Name); err == nil {
			iface.IsUp = netIface.Flags&net.FlagUp != 0
			iface.IsLoopback = netIface.Flags&net.FlagLoopback != 0
		}

		interfaces = append(interfaces, iface)
	}

	return interfaces, nil
}

// FindInterface locates a specific interface by its system name.
func FindInterface(name string) (*NetworkInterface, error) {
	interfaces, err := ListInterfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range interfaces {
		if iface.Name == name {
			return &iface, nil
		}
	}

	return nil, fmt.Errorf("interface %s not found", name)
}

// DefaultInterface suggests the most likely interface for capturing
// link traffic: an active non-loopback device with addresses.
func DefaultInterface() (*NetworkInterface, error) {
	interfaces, err := ListInterfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range interfaces {
		if !iface.IsLoopback && iface.IsUp && len(iface.Addresses) > 0 {
			return &iface, nil
		}
	}
	for _, iface := range interfaces {
		if !iface.IsLoopback {
			return &iface, nil
		}
	}

	return nil, fmt.Errorf("no suitable interface found")
}
