package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/subtide/iotkit/pkg/deviceapi"
	"github.com/subtide/iotkit/pkg/rest"
)

// ErrReadOnly is returned by mutators on a device handle marked
// read-only.
var ErrReadOnly = errors.New("fleet: device is read only")

// Device is a handle on one device. Attributes and properties are
// fetched lazily and cached; Refresh drops the cache. A handle is safe
// for concurrent use.
//
// Attributes are fields the IoT stack understands (hostname, serial,
// connected state). Properties are free-form key/value annotations
// used to organize devices, for example equipment-id mappings.
type Device struct {
	id int
	c  *Client

	mu      sync.Mutex
	ro      bool
	attribs map[string]any
	props   map[string]string
	configs map[string]json.RawMessage
}

func newDevice(id int, c *Client, attribs map[string]any) *Device {
	d := &Device{id: id, c: c, configs: map[string]json.RawMessage{}}
	d.install(attribs)
	return d
}

// install stores a fetched attribute map, splitting out properties.
func (d *Device) install(attribs map[string]any) {
	if attribs == nil {
		return
	}
	if rawProps, ok := attribs["properties"]; ok {
		props := map[string]string{}
		if m, ok := rawProps.(map[string]any); ok {
			for k, v := range m {
				props[k] = fmt.Sprint(v)
			}
		}
		d.props = props
		delete(attribs, "properties")
	}
	d.attribs = attribs
}

// ID is the one field always known without a fetch.
func (d *Device) ID() int { return d.id }

// SetReadOnly toggles the mutability guard. Read-only handles reject
// every operation that would modify the device.
func (d *Device) SetReadOnly(ro bool) {
	d.mu.Lock()
	d.ro = ro
	d.mu.Unlock()
}

func (d *Device) checkWritable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ro {
		return ErrReadOnly
	}
	return nil
}

// Refresh drops all locally cached state, forcing a refetch on the
// next accessor.
func (d *Device) Refresh() {
	d.mu.Lock()
	d.attribs = nil
	d.props = nil
	d.configs = map[string]json.RawMessage{}
	d.mu.Unlock()
}

// call performs an API operation scoped to this device: the device id
// always travels as a query parameter.
func (d *Device) call(ctx context.Context, path string, params any, opts ...rest.RequestOption) (json.RawMessage, error) {
	q := url.Values{"device_id": {strconv.Itoa(d.id)}}
	opts = append(opts, rest.WithQuery(q))
	if params == nil {
		params = map[string]any{}
	}
	return d.c.rest.Call(ctx, path, params, opts...)
}

func (d *Device) callInto(ctx context.Context, path string, params any, out any, opts ...rest.RequestOption) error {
	raw, err := d.call(ctx, path, params, opts...)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// resolve fetches attributes and properties in one query.
func (d *Device) resolve(ctx context.Context) error {
	var attribs map[string]any
	if err := d.callInto(ctx, "iot/get_device_info", map[string]any{"with_props": true}, &attribs); err != nil {
		return err
	}
	d.mu.Lock()
	d.install(attribs)
	// A device with no annotations gets no properties key; record the
	// empty set so Prop does not refetch every time.
	if d.props == nil {
		d.props = map[string]string{}
	}
	d.mu.Unlock()
	return nil
}

func (d *Device) ensureResolved(ctx context.Context) error {
	d.mu.Lock()
	have := d.attribs != nil
	d.mu.Unlock()
	if have {
		return nil
	}
	return d.resolve(ctx)
}

// Attr returns a device attribute, fetching the attribute set on first
// use. Unknown attributes are an error; use Prop for free-form
// annotations.
func (d *Device) Attr(ctx context.Context, name string) (any, error) {
	if err := d.ensureResolved(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attribs[name]
	if !ok {
		return nil, fmt.Errorf("fleet: device %d has no attribute %q", d.id, name)
	}
	return v, nil
}

// Prop returns a device property. Missing properties are not an
// error: the second return reports presence.
func (d *Device) Prop(ctx context.Context, name string) (string, bool, error) {
	d.mu.Lock()
	have := d.props != nil
	d.mu.Unlock()
	if !have {
		if err := d.resolve(ctx); err != nil {
			return "", false, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.props[name]
	return v, ok, nil
}

// SetProp sets a property; a nil value removes it.
func (d *Device) SetProp(ctx context.Context, name string, value *string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	var result string
	err := d.callInto(ctx, "iot/set_device_property", map[string]any{
		"property": name,
		"value":    value,
	}, &result)
	if err != nil {
		return err
	}
	if result != "OK" {
		return fmt.Errorf("fleet: set_device_property returned %q", result)
	}
	d.Refresh()
	return nil
}

// Info returns the merged attribute and property view of the device.
func (d *Device) Info(ctx context.Context) (map[string]any, error) {
	if err := d.ensureResolved(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.attribs)+len(d.props))
	for k, v := range d.attribs {
		out[k] = v
	}
	for k, v := range d.props {
		out[k] = v
	}
	return out, nil
}

// Summary is the human-facing row for fleet listings.
type Summary struct {
	ID            int    `json:"id"`
	Hostname      string `json:"hostname"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	LastHeartbeat string `json:"last_heartbeat"`
}

// Summarize builds the listing row, formatting the heartbeat age as a
// human duration.
func (d *Device) Summarize(ctx context.Context) (Summary, error) {
	info, err := d.Info(ctx)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{ID: d.id, LastHeartbeat: "never"}
	if v, ok := info["hostname"].(string); ok {
		s.Hostname = v
	}
	if v, ok := info["type"].(string); ok {
		s.Type = v
	}
	s.Status = "Disconnected"
	if v, ok := info["connected"].(bool); ok && v {
		s.Status = "Connected"
	}
	if v, ok := info["heartbeat_utc"].(float64); ok && v > 0 {
		age := time.Since(time.Unix(int64(v), 0))
		s.LastHeartbeat = HumanDuration(age)
	}
	return s, nil
}

// Hostname is a convenience reader over Attr.
func (d *Device) Hostname(ctx context.Context) (string, error) {
	v, err := d.Attr(ctx, "hostname")
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("fleet: hostname attribute is %T, not string", v)
	}
	return s, nil
}

// Connected reports whether the device currently holds a connection to
// the service.
func (d *Device) Connected(ctx context.Context) (bool, error) {
	v, err := d.Attr(ctx, "connected")
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// HeartbeatAge reports the time since the device last checked in. The
// second return is false for a device that has never been seen.
func (d *Device) HeartbeatAge(ctx context.Context) (time.Duration, bool, error) {
	if err := d.ensureResolved(ctx); err != nil {
		return 0, false, err
	}
	d.mu.Lock()
	v, ok := d.attribs["heartbeat_utc"]
	d.mu.Unlock()
	ts, isNum := v.(float64)
	if !ok || !isNum || ts <= 0 {
		return 0, false, nil
	}
	return time.Since(time.Unix(int64(ts), 0)), true, nil
}

// SetHostname renames the device.
func (d *Device) SetHostname(ctx context.Context, hostname string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if _, err := d.call(ctx, "iot/set_device_hostname", map[string]any{"hostname": hostname}); err != nil {
		return err
	}
	d.Refresh()
	return nil
}

// SetType changes the device type.
func (d *Device) SetType(ctx context.Context, deviceType string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if _, err := d.call(ctx, "iot/set_device_type", map[string]any{"type": deviceType}); err != nil {
		return err
	}
	d.Refresh()
	return nil
}

// SetProject moves the device into a project.
func (d *Device) SetProject(ctx context.Context, projectID int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if _, err := d.call(ctx, "iot/set_device_project", map[string]any{"project_id": projectID}); err != nil {
		return err
	}
	d.Refresh()
	return nil
}

// SetLocation updates the device coordinates.
func (d *Device) SetLocation(ctx context.Context, lat, lon float64) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if _, err := d.call(ctx, "iot/update_device_location", map[string]any{"lat": lat, "lon": lon}); err != nil {
		return err
	}
	d.Refresh()
	return nil
}

// Admins lists the user ids with admin rights on the device.
func (d *Device) Admins(ctx context.Context) ([]int, error) {
	var users []int
	if err := d.callInto(ctx, "iot/get_device_users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AddAdmin grants a user admin rights on the device.
func (d *Device) AddAdmin(ctx context.Context, userID int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	_, err := d.call(ctx, "iot/assign_user_to_device", map[string]any{"user_id": userID})
	return err
}

// RemoveAdmin revokes a user's admin rights on the device.
func (d *Device) RemoveAdmin(ctx context.Context, userID int) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	_, err := d.call(ctx, "iot/remove_user_from_device", map[string]any{"user_id": userID})
	return err
}

// BandwidthStats returns the device's bandwidth usage in bytes, raw.
func (d *Device) BandwidthStats(ctx context.Context) (json.RawMessage, error) {
	return d.call(ctx, "iot/get_device_bandwidth_stats", nil)
}

// OpenAPI dials the device agent and opens a device API session.
// Close the session when done; it owns the socket.
func (d *Device) OpenAPI(ctx context.Context, opts ...deviceapi.Option) (*deviceapi.Session, error) {
	transport, err := d.c.rest.DialSocket(ctx, "iot/device_api", url.Values{
		"device_id": {strconv.Itoa(d.id)},
	})
	if err != nil {
		return nil, err
	}
	session, err := deviceapi.Open(ctx, transport, opts...)
	if err != nil {
		return nil, fmt.Errorf("fleet: open device api for device %d: %w", d.id, err)
	}
	return session, nil
}

// configQuery names a config file in the path query, the way the
// config endpoints expect it.
func configQuery(name string) rest.RequestOption {
	return rest.WithQuery(url.Values{"config_name": {name}})
}

// ConfigFiles lists the configuration files present on the device.
func (d *Device) ConfigFiles(ctx context.Context) ([]string, error) {
	var files []string
	if err := d.callInto(ctx, "iot/list_device_configs", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Config returns a configuration document by name (no .json
// extension). Results are cached until Refresh or a mutation of the
// same file.
func (d *Device) Config(ctx context.Context, name string) (json.RawMessage, error) {
	d.mu.Lock()
	if cached, ok := d.configs[name]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	raw, err := d.call(ctx, "iot/get_device_config", map[string]any{"config_name": name})
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.configs[name] = raw
	d.mu.Unlock()
	return raw, nil
}

func (d *Device) dropConfigCache(name string) {
	d.mu.Lock()
	delete(d.configs, name)
	d.mu.Unlock()
}

// CreateConfig creates a new configuration file on the device.
func (d *Device) CreateConfig(ctx context.Context, name string, config any) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if config == nil {
		config = map[string]any{}
	}
	_, err := d.call(ctx, "iot/set_device_config", config, configQuery(name), rest.WithMethod(http.MethodPost))
	return err
}

// ReplaceConfig overwrites a configuration file on the device.
func (d *Device) ReplaceConfig(ctx context.Context, name string, config any) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.dropConfigCache(name)
	_, err := d.call(ctx, "iot/set_device_config", config, configQuery(name), rest.WithMethod(http.MethodPut))
	return err
}

// SetConfigKey patches one key in a configuration file, creating the
// file if needed.
func (d *Device) SetConfigKey(ctx context.Context, name, key string, value any) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.dropConfigCache(name)
	_, err := d.call(ctx, "iot/set_device_config", map[string]any{key: value},
		configQuery(name), rest.WithMethod(http.MethodPatch))
	return err
}

// ClearConfigKey removes one key from a configuration file. The
// device software usually falls back to its default for the key.
func (d *Device) ClearConfigKey(ctx context.Context, name, key string) error {
	return d.SetConfigKey(ctx, name, key, nil)
}

// RemoveConfig deletes a configuration file from the device.
func (d *Device) RemoveConfig(ctx context.Context, name string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	d.dropConfigCache(name)
	_, err := d.call(ctx, "iot/set_device_config", nil, configQuery(name), rest.WithMethod(http.MethodDelete))
	return err
}

// StatusFiles lists the status files generated by the device.
func (d *Device) StatusFiles(ctx context.Context) ([]string, error) {
	var files []string
	if err := d.callInto(ctx, "iot/list_device_statuses", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Status returns a status document by name. Statuses are synchronized
// periodically by the device and never cached client-side.
func (d *Device) Status(ctx context.Context, name string) (json.RawMessage, error) {
	return d.call(ctx, "iot/get_device_status", map[string]any{"status_name": name})
}
