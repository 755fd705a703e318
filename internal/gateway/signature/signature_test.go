package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedDeterministic(t *testing.T) {
	fields := []string{"MERCHANT1", "TXN-123", "12.82", "shipping quote", "Jane Doe", "jane@example.com", "", "", "", "", ""}
	first := Keyed(fields, "s3cret")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Keyed(fields, "s3cret"))
	}
	assert.Len(t, first, 128) // sha512 hex
	assert.Equal(t, first, string([]byte(first)))
}

func TestKeyedFieldOrderMatters(t *testing.T) {
	a := Keyed([]string{"a", "b"}, "k")
	b := Keyed([]string{"b", "a"}, "k")
	assert.NotEqual(t, a, b)
}

func TestKeyedV2UsesReversedSecret(t *testing.T) {
	fields := []string{"m", "t", "1.00"}
	assert.Equal(t, Keyed(fields, "terces"), KeyedV2(fields, "secret"))
	assert.NotEqual(t, Keyed(fields, "secret"), KeyedV2(fields, "secret"))
}

func TestReverse(t *testing.T) {
	assert.Equal(t, "cba", Reverse("abc"))
	assert.Equal(t, "", Reverse(""))
	assert.Equal(t, "x", Reverse("x"))
}

func TestEqualCaseInsensitive(t *testing.T) {
	h := Keyed([]string{"a"}, "k")
	assert.True(t, Equal(h, h))
	assert.True(t, Equal(h, " "+h+" "))
	upper := []byte(h)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	assert.True(t, Equal(h, string(upper)))
	assert.False(t, Equal(h, h[:64]))
	assert.False(t, Equal(h, Keyed([]string{"b"}, "k")))
}

func TestHMACSHA256(t *testing.T) {
	sig := HMACSHA256([]byte(`{"id":"evt_1"}`), "whsec")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, HMACSHA256([]byte(`{"id":"evt_1"}`), "whsec"))
	assert.NotEqual(t, sig, HMACSHA256([]byte(`{"id":"evt_2"}`), "whsec"))
	assert.NotEqual(t, sig, HMACSHA256([]byte(`{"id":"evt_1"}`), "other"))
}
