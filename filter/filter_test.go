// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	Region string `json:"region"`
	Amount int    `json:"amount"`
}

func TestSpec_Hash(t *testing.T) {
	a := Spec{Kind: KindHeaders, Params: map[string]string{"a": "1", "b": "2"}}
	b := Spec{Kind: KindHeaders, Params: map[string]string{"b": "2", "a": "1"}}
	c := Spec{Kind: KindHeaders, Params: map[string]string{"a": "12"}}
	d := Spec{Kind: KindHeaders, Params: map[string]string{"a1": "2"}}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.NotEqual(t, c.Hash(), d.Hash())
	assert.NotEqual(t, Accept().Hash(), Reject().Hash())

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestRegistry_BuiltinKinds(t *testing.T) {
	r := NewRegistry[order](0)
	assert.ElementsMatch(t, []string{KindAccept, KindReject, KindHeaders, KindScript}, r.Kinds())
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry[order](0)

	_, err := r.Compile(Spec{Kind: "missing"})
	assert.ErrorIs(t, err, ErrUnknownFilter)
}

func TestAcceptReject(t *testing.T) {
	r := NewRegistry[order](0)

	accept, err := r.Compile(Accept())
	require.NoError(t, err)
	ok, err := accept.Test(order{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	reject, err := r.Compile(Reject())
	require.NoError(t, err)
	ok, err = reject.Test(order{}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHeadersFilter(t *testing.T) {
	r := NewRegistry[order](0)

	f, err := r.Compile(Headers(map[string]string{
		"region": "eu-*",
		"type":   "{order,refund}",
	}))
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{"all match", map[string]string{"region": "eu-west", "type": "order"}, true},
		{"alternative matches", map[string]string{"region": "eu-north", "type": "refund"}, true},
		{"pattern mismatch", map[string]string{"region": "us-east", "type": "order"}, false},
		{"missing header", map[string]string{"region": "eu-west"}, false},
		{"nil headers", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.Test(order{}, tt.headers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestHeadersFilter_InvalidPattern(t *testing.T) {
	r := NewRegistry[order](0)

	_, err := r.Compile(Headers(map[string]string{"region": "[eu"}))
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestScriptFilter(t *testing.T) {
	r := NewRegistry[order](0)

	f, err := r.Compile(Script(`(payload, headers) => payload.amount > 100 && headers.region !== "us"`))
	require.NoError(t, err)

	ok, err := f.Test(order{Amount: 150}, map[string]string{"region": "eu"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Test(order{Amount: 50}, map[string]string{"region": "eu"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.Test(order{Amount: 150}, map[string]string{"region": "us"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScriptFilter_MapPayload(t *testing.T) {
	r := NewRegistry[any](0)

	f, err := r.Compile(Script(`function (payload) { return payload.kind === "a"; }`))
	require.NoError(t, err)

	ok, err := f.Test(map[string]any{"kind": "a"}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScriptFilter_Concurrent(t *testing.T) {
	r := NewRegistry[order](0)

	f, err := r.Compile(Script(`(p) => p.amount % 2 === 0`))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.Test(order{Amount: i}, nil)
			assert.NoError(t, err)
			assert.Equal(t, i%2 == 0, ok)
		}()
	}
	wg.Wait()
}

func TestScriptFilter_Errors(t *testing.T) {
	r := NewRegistry[order](0)

	tests := []struct {
		name string
		spec Spec
	}{
		{"empty source", Script("  ")},
		{"syntax error", Script("(p) => {")},
		{"not a function", Script("42")},
		{"bad timeout", Spec{Kind: KindScript, Params: map[string]string{"source": "(p) => true", "timeout": "soon"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Compile(tt.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestScriptFilter_Throws(t *testing.T) {
	r := NewRegistry[order](0)

	f, err := r.Compile(Script(`(p) => { throw new Error("boom"); }`))
	require.NoError(t, err)

	_, err = f.Test(order{}, nil)
	assert.Error(t, err)
}

func TestScriptFilter_Timeout(t *testing.T) {
	r := NewRegistry[order](0)

	f, err := r.Compile(Spec{Kind: KindScript, Params: map[string]string{
		"source":  "(p) => { for (;;) {} }",
		"timeout": "20ms",
	}})
	require.NoError(t, err)

	_, err = f.Test(order{}, nil)
	assert.ErrorIs(t, err, ErrScriptTimeout)
}

func TestRegistry_CustomKindAndCache(t *testing.T) {
	r := NewRegistry[order](2)

	var builds int
	r.Register("min-amount", func(spec Spec) (Filter[order], error) {
		builds++
		if spec.Params["min"] == "" {
			return nil, errors.New("min required")
		}
		return NewFunc(spec, func(o order, _ map[string]string) (bool, error) {
			return o.Amount >= 10, nil
		}), nil
	})

	spec := Spec{Kind: "min-amount", Params: map[string]string{"min": "10"}}
	f1, err := r.Compile(spec)
	require.NoError(t, err)
	f2, err := r.Compile(Spec{Kind: "min-amount", Params: map[string]string{"min": "10"}})
	require.NoError(t, err)

	assert.Same(t, f1, f2)
	assert.Equal(t, 1, builds)

	ok, err := f1.Test(order{Amount: 10}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.Compile(Spec{Kind: "min-amount"})
	assert.Error(t, err)

	// Replacing a kind invalidates compiled filters.
	r.Register("min-amount", func(spec Spec) (Filter[order], error) {
		return NewFunc(spec, func(order, map[string]string) (bool, error) {
			return false, nil
		}), nil
	})
	f3, err := r.Compile(spec)
	require.NoError(t, err)
	ok, err = f3.Test(order{Amount: 10}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
