// Package config loads the static topology and per-rank address
// document that cmd/derpd needs to stand up a rank's transport and
// peer table: the tree shape itself (internal/topology.Node) plus a
// listen address for every rank in it.
//
// Grounded on the teacher's internal/cli.Config YAML struct-tag
// convention (nested structs, one yaml tag per field, loaded with
// gopkg.in/yaml.v3 via a single os.ReadFile + yaml.Unmarshal call).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oakbroker/derp/internal/topology"
	"github.com/oakbroker/derp/pkg/types"
)

// Document is the full on-disk configuration: the tree overlay plus a
// listen address for every rank that appears in it.
type Document struct {
	Topology topology.Node `yaml:"topology"`

	Ranks []RankAddress `yaml:"ranks"`

	Eventlog struct {
		MaxBatch int `yaml:"max_batch"`
	} `yaml:"eventlog"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// RankAddress binds one rank to the base URL its derpd process listens
// on, e.g. "http://10.0.0.4:8181".
type RankAddress struct {
	Rank    types.Rank `yaml:"rank"`
	Address string     `yaml:"address"`
}

// Load reads and parses path into a Document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &doc, nil
}

// AddressBook is a Document's rank/address binding, resolvable by any
// rank in the topology. Implements internal/transport.AddressBook.
type AddressBook struct {
	addrs map[types.Rank]string
}

// Addresses builds an AddressBook from the document's Ranks list.
func (d *Document) Addresses() *AddressBook {
	b := &AddressBook{addrs: make(map[types.Rank]string, len(d.Ranks))}
	for _, ra := range d.Ranks {
		b.addrs[ra.Rank] = ra.Address
	}
	return b
}

// Address implements internal/transport.AddressBook.
func (b *AddressBook) Address(rank types.Rank) (string, bool) {
	a, ok := b.addrs[rank]
	return a, ok
}

// ListenAddress returns the address configured for rank, suitable for
// passing to http.Server.Addr after stripping any scheme.
func (d *Document) ListenAddress(rank types.Rank) (string, bool) {
	for _, ra := range d.Ranks {
		if ra.Rank == rank {
			return ra.Address, true
		}
	}
	return "", false
}

// Topology builds the internal/topology.Topology from the document's
// tree, failing if the tree contains a duplicate rank.
func (d *Document) BuildTopology() (*topology.Topology, error) {
	return topology.New(d.Topology)
}
