package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"nhooyr.io/websocket"
)

// EventTable is the historical event log as served for display:
// column headers plus rows.
type EventTable struct {
	Headers []string `json:"headers"`
	Data    [][]any  `json:"data"`
}

// Events returns the recent event log of the device. kinds filters by
// event name; limit bounds the number of rows (0 uses the server
// default).
func (d *Device) Events(ctx context.Context, kinds []string, limit int) (*EventTable, error) {
	params := map[string]any{}
	if limit > 0 {
		params["limit"] = limit
	}
	if len(kinds) > 0 {
		params["events"] = kinds
	}

	var table EventTable
	if err := d.callInto(ctx, "iot/get_device_events", params, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// Watch opens a live event feed for just this device.
func (d *Device) Watch(ctx context.Context, kinds []string) (*EventFeed, error) {
	return d.c.WatchEvents(ctx, []*Device{d}, kinds)
}

// EventFeed is a live stream of device events. Events arrive as one
// JSON document per frame; there is no terminal message, the feed runs
// until Close or disconnect.
type EventFeed struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Next blocks for the next event.
func (f *EventFeed) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("fleet: event feed closed: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		return json.RawMessage(data), nil
	}
}

// Close shuts the feed down. Safe to call multiple times.
func (f *EventFeed) Close() error {
	f.closeOnce.Do(func() {
		f.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// WatchEvents opens a live event feed. A nil device list subscribes to
// events from every visible device; kinds filters by event name.
func (c *Client) WatchEvents(ctx context.Context, devices []*Device, kinds []string) (*EventFeed, error) {
	ids := "-1"
	if len(devices) > 0 {
		parts := make([]string, len(devices))
		for i, d := range devices {
			parts[i] = strconv.Itoa(d.ID())
		}
		ids = strings.Join(parts, ",")
	}

	query := url.Values{"device_ids": {ids}}
	if len(kinds) > 0 {
		query.Set("kind", strings.Join(kinds, ","))
	}

	conn, err := c.rest.DialRawSocket(ctx, "iot/device_events", query)
	if err != nil {
		return nil, err
	}
	return &EventFeed{conn: conn}, nil
}
