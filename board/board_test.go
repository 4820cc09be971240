package board

import (
	"encoding/json"
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestIdOrder(t *testing.T) {
	// ulids from one process are ordered by create time
	// the document uses this to order writes from the same replica id space

	a := NewId()
	for range 64 * 1024 {
		b := NewId()
		assert.Equal(t, a.Cmp(b) < 0, true)
		assert.Equal(t, b.Cmp(a) > 0, true)
		assert.Equal(t, b.Cmp(b), 0)
		assert.Equal(t, b == a, false)
		a = b
	}
}

func TestIdJsonCodec(t *testing.T) {
	type Test struct {
		A Id  `json:"a,omitempty"`
		B *Id `json:"b,omitempty"`
	}

	test1 := &Test{}
	test1.A = NewId()
	b_ := NewId()
	test1.B = &b_

	test1Json, err := json.Marshal(test1)
	assert.Equal(t, err, nil)

	test2 := &Test{}
	err = json.Unmarshal(test1Json, test2)
	assert.Equal(t, err, nil)

	assert.Equal(t, test1.A, test2.A)
	assert.Equal(t, test1.B, test2.B)

	id, err := ParseId(test1.A.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, id, test1.A)

	_, err = ParseId("not-an-id")
	assert.NotEqual(t, err, nil)

	_, err = IdFromBytes([]byte{1, 2, 3})
	assert.NotEqual(t, err, nil)
}
