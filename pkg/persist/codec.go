// Package persist encodes values to files with pluggable codecs.
package persist

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Codec names accepted by ByName.
const (
	CodecJSON = "json"
	CodecGob  = "gob"
	CodecLZ4  = "lz4"
)

const (
	jsonExtension = ".json"
	gobExtension  = ".gob"
	lz4Extension  = ".lz4"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// ErrUnknownCodec is returned by ByName for an unsupported codec.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec defines how a value is serialized and deserialized.
type Codec interface {
	// Encode writes the value to the writer.
	Encode(w io.Writer, v any) error
	// Decode reads the value from the reader.
	Decode(r io.Reader, v any) error
	// Extension returns the file extension for this codec (e.g., ".json", ".gob").
	Extension() string
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return NewJSONCodec(), nil
	case CodecGob:
		return NewGobCodec(), nil
	case CodecLZ4:
		return NewLZ4Codec(&JSONCodec{}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(v)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// GobCodec implements Codec using gob encoding.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, v any) error {
	err := gob.NewEncoder(w).Encode(v)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader, v any) error {
	err := gob.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for gob files.
func (c *GobCodec) Extension() string {
	return gobExtension
}

// LZ4Codec compresses the output of another codec with an lz4 frame.
type LZ4Codec struct {
	inner Codec
}

// NewLZ4Codec wraps inner.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	return &LZ4Codec{inner: inner}
}

// Encode implements Codec.Encode.
func (c *LZ4Codec) Encode(w io.Writer, v any) error {
	zw := lz4.NewWriter(w)

	err := c.inner.Encode(zw, v)
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode.
func (c *LZ4Codec) Decode(r io.Reader, v any) error {
	return c.inner.Decode(lz4.NewReader(r), v)
}

// Extension implements Codec.Extension, e.g. ".json.lz4".
func (c *LZ4Codec) Extension() string {
	return c.inner.Extension() + lz4Extension
}
