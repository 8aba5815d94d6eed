// Package fleet is the resource layer over the IoT management
// service: device enumeration and lookup, per-device configuration,
// status, events, port mappings, the device filesystem, and the hook
// for opening a device API session.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/subtide/iotkit/pkg/rest"
)

// ErrDeviceNotFound is returned by lookups that match nothing.
var ErrDeviceNotFound = errors.New("fleet: device not found")

// prefetchConcurrency bounds the parallel attribute fetches done by
// PrefetchInfo.
const prefetchConcurrency = 8

// Client provides fleet-level queries and hands out Device handles.
type Client struct {
	rest *rest.Client
	log  zerolog.Logger
}

// Option configures a fleet Client.
type Option func(*Client)

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New wraps a REST client.
func New(rc *rest.Client, opts ...Option) *Client {
	c := &Client{rest: rc, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// REST exposes the underlying REST client for operations outside the
// fleet surface.
func (c *Client) REST() *rest.Client { return c.rest }

// Device returns a handle for a known device id without any fetch.
func (c *Client) Device(id int) *Device {
	return newDevice(id, c, nil)
}

// deviceRecord is one entry of a with_info listing.
type deviceRecord map[string]any

func (r deviceRecord) id() (int, bool) {
	v, ok := r["device_id"].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func (c *Client) devicesFromRecords(records []deviceRecord) []*Device {
	devices := make([]*Device, 0, len(records))
	for _, rec := range records {
		id, ok := rec.id()
		if !ok {
			continue
		}
		devices = append(devices, newDevice(id, c, map[string]any(rec)))
	}
	return devices
}

func (c *Client) devicesFromIDs(ids []int) []*Device {
	devices := make([]*Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, newDevice(id, c, nil))
	}
	return devices
}

// ListDevices returns every device visible to the token, attributes
// preloaded.
func (c *Client) ListDevices(ctx context.Context) ([]*Device, error) {
	var records []deviceRecord
	if err := c.rest.CallInto(ctx, "iot/list_devices", map[string]any{"with_info": true}, &records); err != nil {
		return nil, err
	}
	return c.devicesFromRecords(records), nil
}

// OnlineDevices returns the devices currently connected to the
// service. Attributes are not preloaded; use PrefetchInfo before
// displaying many of them.
func (c *Client) OnlineDevices(ctx context.Context) ([]*Device, error) {
	var ids []int
	if err := c.rest.CallInto(ctx, "iot/get_connected_devices", map[string]any{}, &ids); err != nil {
		return nil, err
	}
	return c.devicesFromIDs(ids), nil
}

// MyDevices returns the devices owned by the token's user.
func (c *Client) MyDevices(ctx context.Context) ([]*Device, error) {
	var records []deviceRecord
	if err := c.rest.CallInto(ctx, "iot/get_my_devices", map[string]any{"with_info": true}, &records); err != nil {
		return nil, err
	}
	return c.devicesFromRecords(records), nil
}

// DevicesByUser returns the devices belonging to a user.
func (c *Client) DevicesByUser(ctx context.Context, userID int) ([]*Device, error) {
	var ids []int
	if err := c.rest.CallInto(ctx, "iot/list_devices", map[string]any{"user_id": userID}, &ids); err != nil {
		return nil, err
	}
	return c.devicesFromIDs(ids), nil
}

// DevicesByProperty returns the devices carrying a property value.
func (c *Client) DevicesByProperty(ctx context.Context, property, value string) ([]*Device, error) {
	var ids []int
	err := c.rest.CallInto(ctx, "iot/get_devices_by_property", map[string]any{
		"property": property,
		"value":    value,
	}, &ids)
	if err != nil {
		return nil, err
	}
	return c.devicesFromIDs(ids), nil
}

// DevicesByProject returns the devices of a project subdomain. The
// project scope applies only for this query.
func (c *Client) DevicesByProject(ctx context.Context, subdomain string) ([]*Device, error) {
	prev := c.rest.Project()
	c.rest.SetProject(subdomain)
	defer c.rest.SetProject(prev)

	var ids []int
	if err := c.rest.CallInto(ctx, "iot/list_devices", map[string]any{}, &ids); err != nil {
		return nil, err
	}
	return c.devicesFromIDs(ids), nil
}

// DeviceByID looks a device up by numeric id.
func (c *Client) DeviceByID(ctx context.Context, id int) (*Device, error) {
	var record deviceRecord
	err := c.rest.CallInto(ctx, "iot/get_device_info", map[string]any{"device_id": id}, &record)
	if err != nil {
		if rest.IsNotFound(err) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	recID, ok := record.id()
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return newDevice(recID, c, map[string]any(record)), nil
}

// DeviceByHostname looks a device up by hostname.
func (c *Client) DeviceByHostname(ctx context.Context, hostname string) (*Device, error) {
	var ids []int
	err := c.rest.CallInto(ctx, "iot/get_devices_by_hostname", map[string]any{"hostname": hostname}, &ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrDeviceNotFound
	}
	return newDevice(ids[0], c, nil), nil
}

// DeviceBySerial looks a device up by serial number.
func (c *Client) DeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	var raw json.RawMessage
	err := c.rest.CallInto(ctx, "iot/get_device_by_serial", map[string]any{"serial": serial}, &raw)
	if err != nil {
		return nil, err
	}
	var id int
	if err := json.Unmarshal(raw, &id); err != nil || id == 0 {
		return nil, ErrDeviceNotFound
	}
	return newDevice(id, c, nil), nil
}

// DeviceFuzzy resolves a device from a free-form reference: numeric
// id, then serial, then hostname.
func (c *Client) DeviceFuzzy(ctx context.Context, ref string) (*Device, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		if d, err := c.DeviceByID(ctx, id); err == nil {
			return d, nil
		} else if !errors.Is(err, ErrDeviceNotFound) {
			return nil, err
		}
	}
	if d, err := c.DeviceBySerial(ctx, ref); err == nil {
		return d, nil
	} else if !errors.Is(err, ErrDeviceNotFound) && !rest.IsNotFound(err) {
		return nil, err
	}
	if d, err := c.DeviceByHostname(ctx, ref); err == nil {
		return d, nil
	} else if !errors.Is(err, ErrDeviceNotFound) && !rest.IsNotFound(err) {
		return nil, err
	}
	return nil, ErrDeviceNotFound
}

// PrefetchInfo resolves attributes for many devices concurrently.
// Devices that already carry attributes are skipped.
func (c *Client) PrefetchInfo(ctx context.Context, devices []*Device) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)

	for _, d := range devices {
		d := d
		g.Go(func() error {
			return d.ensureResolved(ctx)
		})
	}
	return g.Wait()
}
