package tome

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestIdOrder(t *testing.T) {
	// ulids are ordered by create time.
	// mutation ids from the same client can be ordered
	a := NewId()
	time.Sleep(2 * time.Millisecond)
	b := NewId()

	assert.Equal(t, a.LessThan(b), true)
	assert.Equal(t, b.LessThan(a), false)
	assert.Equal(t, a == b, false)
}

func TestIdCodec(t *testing.T) {
	a := NewId()

	parsed, err := ParseId(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, a)

	fromBytes, err := IdFromBytes(a.Bytes())
	assert.Equal(t, err, nil)
	assert.Equal(t, fromBytes, a)

	_, err = IdFromBytes([]byte{1, 2, 3})
	assert.NotEqual(t, err, nil)
}
