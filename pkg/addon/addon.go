// Package addon talks to upstream Stremio addons. A configured preset
// expands into one or more addon clients; each client declares which
// resources it supports and never lets an upstream failure escape as an
// error of its own.
package addon

import (
	"fmt"
	"strings"
	"time"
)

// Capabilities records which resources an addon instance serves.
type Capabilities struct {
	Streams   bool
	Catalog   bool
	Meta      bool
	Subtitles bool
}

// Preset is a configured addon template. Expansion turns it into 0..N
// client instances.
type Preset struct {
	// Name is the display name used in results and errors.
	Name string
	// URL is the addon base URL (the manifest URL without /manifest.json).
	URL string
	// Timeout bounds each request to this addon.
	Timeout time.Duration
	// Services restricts which debrid services this preset applies to.
	// Empty means all configured services.
	Services []string
	// UseMultipleInstances expands the preset into one instance per
	// service instead of a single shared instance.
	UseMultipleInstances bool
	// IncludeP2P adds an extra instance that keeps raw p2p results.
	IncludeP2P bool
	// MediaTypes restricts the request types ("movie", "series") this
	// preset answers. Empty means all.
	MediaTypes []string
}

// Validate checks a preset for the errors expansion can't recover from.
// Unknown option names never reach this point: the config decoder
// rejects them.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("addon preset needs a name")
	}
	if p.URL == "" {
		return fmt.Errorf("addon preset %v needs a URL", p.Name)
	}
	if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
		return fmt.Errorf("addon preset %v has an invalid URL %q", p.Name, p.URL)
	}
	return nil
}

// Expand turns a preset into concrete client instances for the given
// configured service IDs.
func Expand(p Preset, serviceIDs []string, opts ClientOptions) ([]*Client, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	services := serviceIDs
	if len(p.Services) > 0 {
		services = intersect(serviceIDs, p.Services)
	}

	var clients []*Client
	if p.UseMultipleInstances && len(services) > 0 {
		for _, svc := range services {
			c := newClient(p, opts)
			c.name = p.Name + " | " + svc
			c.serviceID = svc
			clients = append(clients, c)
		}
	} else {
		c := newClient(p, opts)
		if len(services) == 1 {
			c.serviceID = services[0]
		}
		clients = append(clients, c)
	}

	if p.IncludeP2P {
		c := newClient(p, opts)
		c.name = p.Name + " | P2P"
		c.keepP2P = true
		clients = append(clients, c)
	}
	return clients, nil
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		for _, w := range b {
			if v == w {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
