package fleet

import (
	"context"
	"fmt"
)

// PortMapping is one proxied port: connections to LocalPort on the
// service host are forwarded to RemoteHost:RemotePort on the device.
type PortMapping struct {
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
	RemoteHost string `json:"remote_host"`
}

// MappedPorts lists the port mappings active for the device.
func (d *Device) MappedPorts(ctx context.Context) ([]PortMapping, error) {
	var ports []PortMapping
	if err := d.callInto(ctx, "iot/get_device_port_mappings", nil, &ports); err != nil {
		return nil, err
	}
	return ports, nil
}

// MapPort maps a service-side port to remoteHost:remotePort on the
// device and returns the allocated local port.
func (d *Device) MapPort(ctx context.Context, remotePort int, remoteHost string) (int, error) {
	if err := d.checkWritable(); err != nil {
		return 0, err
	}
	var result struct {
		LocalPort int `json:"local_port"`
	}
	err := d.callInto(ctx, "iot/device_map_port", map[string]any{
		"remote_port": remotePort,
		"remote_host": remoteHost,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.LocalPort, nil
}

// UnmapPort releases a mapped local port.
func (d *Device) UnmapPort(ctx context.Context, localPort int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	_, err := d.call(ctx, "iot/device_unmap_port", map[string]any{"local_port": localPort})
	return err
}

// SSHHostConfig renders an ssh_config Host block that reaches the
// device through a mapped port 22.
func (d *Device) SSHHostConfig(ctx context.Context, proxyJump, user string) (string, error) {
	port, err := d.MapPort(ctx, 22, "localhost")
	if err != nil {
		return "", err
	}
	hostname, err := d.Hostname(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Host %s\n  HostName localhost\n  Port %d\n  User %s\n  ProxyJump %s\n",
		hostname, port, user, proxyJump), nil
}
