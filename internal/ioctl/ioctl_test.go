package ioctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fourBytes struct{ v uint32 }

type twentyFour struct {
	a, b, c, d uint32
	e          uint64
}

func TestEncode(t *testing.T) {
	assert.Equal(t, Code(0x641e), IO('d', 0x1e))
	assert.Equal(t, Code(0xc00464af), IOWR[fourBytes]('d', 0xaf))
	assert.Equal(t, Code(0xc01864b0), IOWR[twentyFour]('d', 0xb0))
	assert.Equal(t, Code(0x40046401), IOW[fourBytes]('d', 0x01))
}

func TestDecode(t *testing.T) {
	c := IOWR[twentyFour]('d', 0xb0)
	assert.Equal(t, Read|Write, c.Dir())
	assert.EqualValues(t, 24, c.Size())
	assert.Equal(t, byte('d'), c.Type())
	assert.Equal(t, byte(0xb0), c.Nr())
	assert.Equal(t, "ioctl(d, 0xb0, 24 bytes)", c.String())
}
