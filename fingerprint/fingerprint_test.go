package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Deterministic(t *testing.T) {
	a := &Descriptor{
		Method: "get",
		URL:    "https://api.example.com/items",
		Body:   map[string]any{"a": 1, "b": 2},
	}
	b := &Descriptor{
		Method: "GET",
		URL:    "https://api.example.com/items",
		Body:   map[string]any{"b": 2, "a": 1},
	}

	ka, err := Key(a)
	require.NoError(t, err)
	kb, err := Key(b)
	require.NoError(t, err)

	assert.Equal(t, ka, kb, "key-order-insensitive bodies must hash identically")
	assert.Contains(t, ka, "req:GET:")
}

func TestKey_DistinctRequests(t *testing.T) {
	base := &Descriptor{Method: "GET", URL: "https://api.example.com/items"}

	variants := []*Descriptor{
		{Method: "POST", URL: base.URL},
		{Method: "GET", URL: "https://api.example.com/other"},
		{Method: "GET", URL: base.URL, Params: map[string][]string{"page": {"2"}}},
		{Method: "GET", URL: base.URL, Context: map[string]any{"tenant": "acme"}},
		{Method: "GET", URL: base.URL, WithCredentials: true},
	}

	baseKey, err := Key(base)
	require.NoError(t, err)

	for _, v := range variants {
		k, err := Key(v)
		require.NoError(t, err)
		assert.NotEqual(t, baseKey, k, "descriptor %+v must not collide with base", v)
	}
}

func TestKey_NilDescriptor(t *testing.T) {
	_, err := Key(nil)
	assert.Error(t, err)
}

func TestEqual_ParamOrderInsensitive(t *testing.T) {
	a := &Descriptor{
		URL:    "https://api.example.com",
		Params: map[string][]string{"a": {"1"}, "b": {"2"}},
	}
	b := &Descriptor{
		URL:    "https://api.example.com",
		Params: map[string][]string{"b": {"2"}, "a": {"1"}},
	}

	assert.True(t, Equal(a, b))
	assert.True(t, Equal(b, a), "equality must be symmetric")
}

func TestEqual_MultiValueParams(t *testing.T) {
	a := &Descriptor{Params: map[string][]string{"tag": {"x", "y"}}}
	b := &Descriptor{Params: map[string][]string{"tag": {"y", "x"}}}
	c := &Descriptor{Params: map[string][]string{"tag": {"x"}}}

	assert.True(t, Equal(a, b), "repeated values compare as multisets")
	assert.False(t, Equal(a, c))
}

func TestEqual_HeaderNameCase(t *testing.T) {
	a := &Descriptor{Headers: map[string][]string{"Content-Type": {"application/json"}}}
	b := &Descriptor{Headers: map[string][]string{"content-type": {"application/json"}}}

	assert.True(t, Equal(a, b))
}

func TestEqual_Body(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs value", nil, map[string]any{"x": 1}, false},
		{"map order", map[string]any{"x": 1, "y": 2}, map[string]any{"y": 2, "x": 1}, true},
		{"struct vs map same shape", payload{Name: "a", N: 1}, map[string]any{"name": "a", "n": 1}, true},
		{"different values", map[string]any{"x": 1}, map[string]any{"x": 2}, false},
		{"nested maps", map[string]any{"o": map[string]any{"a": 1, "b": 2}}, map[string]any{"o": map[string]any{"b": 2, "a": 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Equal(&Descriptor{Body: tt.a}, &Descriptor{Body: tt.b})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqual_Flags(t *testing.T) {
	a := &Descriptor{URL: "u", WithCredentials: true}
	b := &Descriptor{URL: "u"}

	assert.False(t, Equal(a, b))
}

func TestEqual_EmptyVsAbsentValues(t *testing.T) {
	a := &Descriptor{Params: map[string][]string{"empty": {}}}
	b := &Descriptor{}

	assert.True(t, Equal(a, b), "a key with no values compares equal to absence")
}

func TestEqual_Nil(t *testing.T) {
	d := &Descriptor{URL: "u"}

	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(d, nil))
	assert.False(t, Equal(nil, d))
}

func TestClone_Isolated(t *testing.T) {
	d := &Descriptor{
		URL:     "u",
		Params:  map[string][]string{"a": {"1"}},
		Context: map[string]any{"k": "v"},
	}

	cp := d.Clone()
	cp.Params["a"][0] = "changed"
	cp.Context["k"] = "changed"

	assert.Equal(t, "1", d.Params["a"][0])
	assert.Equal(t, "v", d.Context["k"])
	assert.True(t, Equal(d, d.Clone()))
}
