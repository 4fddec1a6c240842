// services/lscon/topology/fdt.go
package topology

import (
	"os"
	"strings"

	"github.com/u-root/u-root/pkg/dt"

	"mezzanine-go/errcode"
)

var linkProps = []string{"i2c0", "i2c1", "spi"}

// stringList splits a NUL separated property value.
func stringList(p *dt.Property) []string {
	v := strings.TrimRight(string(p.Value), "\x00")
	if v == "" {
		return nil
	}
	return strings.Split(v, "\x00")
}

func compatible(n *dt.Node) []string {
	p, ok := n.LookProperty("compatible")
	if !ok {
		return nil
	}
	return stringList(p)
}

func available(n *dt.Node) bool {
	p, ok := n.LookProperty("status")
	if !ok {
		return true
	}
	s := strings.TrimRight(string(p.Value), "\x00")
	return s == "okay" || s == "ok"
}

// FromFDT finds the first available node compatible with the low-speed
// connector and describes it. Links are the i2c0, i2c1 and spi phandles,
// resolved to the referenced node names. A phandle that does not resolve is
// left out, so Attach reports the link as missing.
func FromFDT(fdt *dt.FDT) (*Static, error) {
	const op = "topology fdt"
	if fdt == nil || fdt.RootNode == nil {
		return nil, errcode.New(errcode.InvalidName, op, "empty tree")
	}

	byHandle := make(map[dt.PHandle]string)
	var conn *dt.Node
	err := fdt.RootNode.Walk(func(n *dt.Node) error {
		if p, ok := n.LookProperty("phandle"); ok {
			if ph, err := p.AsPHandle(); err == nil {
				byHandle[ph] = n.Name
			}
		}
		if conn == nil && available(n) {
			for _, c := range compatible(n) {
				if c == PlatformCompatible {
					conn = n
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, &errcode.E{C: errcode.InvalidName, Op: op, Err: err}
	}
	if conn == nil {
		return nil, errcode.New(errcode.LinkMissing, op, "no "+PlatformCompatible+" node")
	}

	links := make(map[string]string, len(linkProps))
	for _, name := range linkProps {
		p, ok := conn.LookProperty(name)
		if !ok {
			continue
		}
		ph, err := p.AsPHandle()
		if err != nil {
			continue
		}
		if target, ok := byHandle[ph]; ok {
			links[name] = target
		}
	}

	var kids []Node
	for _, c := range conn.Children {
		if !available(c) {
			continue
		}
		kids = append(kids, NewNode(c.Name, compatible(c)...))
	}
	return New(conn.Name, links, kids...), nil
}

// LoadFDT reads a flattened device tree blob from path.
func LoadFDT(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fdt, err := dt.ReadFDT(f)
	if err != nil {
		return nil, &errcode.E{C: errcode.InvalidName, Op: "topology fdt", Msg: path, Err: err}
	}
	return FromFDT(fdt)
}
