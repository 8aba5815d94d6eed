package deviceapi

import (
	"fmt"
	"sort"
)

// Kind classifies an endpoint as request/response or streaming.
type Kind int

const (
	// KindCall is a single request followed by a single response.
	KindCall Kind = iota + 1
	// KindEvent is a single request followed by a response stream.
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Endpoint is one named operation exposed by a device agent. Endpoints
// are discovered once at session open and never change afterward.
type Endpoint struct {
	Name string
	ID   int
	Kind Kind
}

// bootstrapEndpoint is the one endpoint whose identity is known without
// discovery. Its numeric id is always 0.
const bootstrapEndpoint = "get_call_info"

// callInfo is the bootstrap response: endpoints[i] has numeric id i and
// kind endpoint_types[i].
type callInfo struct {
	VersionString string   `json:"version_string"`
	Endpoints     []string `json:"endpoints"`
	EndpointTypes []string `json:"endpoint_types"`
}

// endpointTable builds the capability table from a bootstrap response.
// Unequal-length arrays and unknown kind labels are fatal.
func endpointTable(info callInfo) (map[string]Endpoint, error) {
	if len(info.Endpoints) != len(info.EndpointTypes) {
		return nil, fmt.Errorf("deviceapi: bootstrap arrays differ: %d endpoints, %d types",
			len(info.Endpoints), len(info.EndpointTypes))
	}

	table := make(map[string]Endpoint, len(info.Endpoints))
	for i, name := range info.Endpoints {
		var kind Kind
		switch info.EndpointTypes[i] {
		case "call":
			kind = KindCall
		case "event":
			kind = KindEvent
		default:
			return nil, fmt.Errorf("deviceapi: endpoint %q has unknown type %q", name, info.EndpointTypes[i])
		}
		table[name] = Endpoint{Name: name, ID: i, Kind: kind}
	}

	// The bootstrap entry is pre-seeded before discovery; keep it if the
	// agent did not list itself.
	if _, ok := table[bootstrapEndpoint]; !ok {
		table[bootstrapEndpoint] = Endpoint{Name: bootstrapEndpoint, ID: 0, Kind: KindCall}
	}
	return table, nil
}

// names returns the sorted endpoint names of the given kind.
func names(table map[string]Endpoint, kind Kind) []string {
	var out []string
	for name, ep := range table {
		if ep.Kind == kind {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
