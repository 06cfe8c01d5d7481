// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// ErrInvalidFrame is returned when compressed data carries an unknown header.
var ErrInvalidFrame = errors.New("invalid compression frame")

// Compressed wraps a Codec and compresses encoded values larger than
// Threshold with zstd. Every encoded value is prefixed by one frame byte.
type Compressed struct {
	inner     Codec
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCompressed creates a compressing codec. Values shorter than threshold
// bytes are stored uncompressed.
func NewCompressed(inner Codec, threshold int) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Compressed{
		inner:     inner,
		threshold: threshold,
		encoder:   enc,
		decoder:   dec,
	}, nil
}

func (c *Compressed) Name() string { return c.inner.Name() + "+zstd" }

func (c *Compressed) Marshal(v any) ([]byte, error) {
	data, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}

	if len(data) < c.threshold {
		out := make([]byte, 0, len(data)+1)
		out = append(out, frameRaw)
		return append(out, data...), nil
	}

	out := make([]byte, 1, len(data)/2+1)
	out[0] = frameZstd
	return c.encoder.EncodeAll(data, out), nil
}

func (c *Compressed) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return ErrInvalidFrame
	}

	switch data[0] {
	case frameRaw:
		return c.inner.Unmarshal(data[1:], v)
	case frameZstd:
		raw, err := c.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return fmt.Errorf("failed to decompress: %w", err)
		}
		return c.inner.Unmarshal(raw, v)
	default:
		return ErrInvalidFrame
	}
}
