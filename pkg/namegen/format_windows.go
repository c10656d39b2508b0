//go:build windows

package namegen

import "strconv"

const pipeRoot = `\\.\pipe\`

func (g *Generator) format(n uint64) string {
	return pipeRoot + g.prefix + "-" + g.salt + "-" + strconv.FormatUint(n, 10)
}
