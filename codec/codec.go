// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec serializes messages before they are admitted into queues and
// the state documents kept in the shared store.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownCodec is returned for unsupported codec names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec names.
const (
	MsgpackName = "msgpack"
	JSONName    = "json"
)

// Codec marshals values to bytes and back. Implementations are safe for
// concurrent use.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Msgpack encodes with MessagePack. Map keys are sorted so equal values
// encode to equal bytes, and strings decoded into interface values stay
// strings.
type Msgpack struct{}

func (Msgpack) Name() string { return MsgpackName }

func (Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

// JSON encodes with encoding/json compatible semantics.
type JSON struct{}

func (JSON) Name() string { return JSONName }

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch name {
	case "", MsgpackName:
		return Msgpack{}, nil
	case JSONName:
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}
