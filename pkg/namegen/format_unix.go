//go:build !windows

package namegen

import (
	"path/filepath"
	"strconv"
)

func (g *Generator) format(n uint64) string {
	base := g.prefix + "-" + g.salt + "-" + strconv.FormatUint(n, 10)
	if g.namespaced {
		return "@" + base
	}
	return filepath.Join(g.dir, base+".sock")
}
