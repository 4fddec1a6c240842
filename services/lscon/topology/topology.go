// services/lscon/topology/topology.go
package topology

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

// Node is a declared mezzanine.
type Node struct {
	name   string
	compat []string
}

func NewNode(name string, compatible ...string) Node {
	return Node{name: name, compat: compatible}
}

func (n Node) Name() string         { return n.name }
func (n Node) Compatible() []string { return n.compat }

// Static is a fixed connector description. It satisfies lscon.Topology.
type Static struct {
	name     string
	links    map[string]lsbus.LinkRef
	children []lsbus.Node
}

// New builds a topology from link name to provider reference and children.
func New(name string, links map[string]string, children ...Node) *Static {
	s := &Static{name: name, links: make(map[string]lsbus.LinkRef, len(links))}
	for k, v := range links {
		s.links[k] = lsbus.LinkRef(v)
	}
	for _, c := range children {
		s.children = append(s.children, c)
	}
	return s
}

func (s *Static) Name() string { return s.name }

func (s *Static) Link(name string) (lsbus.LinkRef, bool) {
	ref, ok := s.links[name]
	return ref, ok && ref != ""
}

func (s *Static) Children() []lsbus.Node { return s.children }

// ---- YAML ----

type file struct {
	Connector  string            `yaml:"connector"`
	Compatible string            `yaml:"compatible"`
	Links      map[string]string `yaml:"links"`
	Mezzanines []struct {
		Name       string   `yaml:"name"`
		Compatible []string `yaml:"compatible"`
		Disabled   bool     `yaml:"disabled"`
	} `yaml:"mezzanines"`
}

// Decode reads a YAML connector description:
//
//	connector: lscon
//	links: {i2c0: i2c@0, i2c1: i2c@1, spi: spi@0}
//	mezzanines:
//	  - name: secure
//	    compatible: ["96boards,secure96"]
//
// Mezzanines with disabled: true are left out. Unknown keys are an error.
func Decode(r io.Reader) (*Static, error) {
	const op = "topology decode"
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, &errcode.E{C: errcode.InvalidName, Op: op, Err: err}
	}
	if f.Compatible != "" && f.Compatible != PlatformCompatible {
		return nil, errcode.New(errcode.InvalidName, op, "not a low-speed connector: "+f.Compatible)
	}
	var kids []Node
	for i, m := range f.Mezzanines {
		if m.Disabled {
			continue
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("mezzanine@%d", i)
		}
		kids = append(kids, NewNode(m.Name, m.Compatible...))
	}
	return New(f.Connector, f.Links, kids...), nil
}

// Load decodes the YAML file at path.
func Load(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return s, nil
}

// PlatformCompatible is repeated here so the topology package does not
// depend on lscon.
const PlatformCompatible = "96boards,low-speed-connector"
