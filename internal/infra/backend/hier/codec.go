package hier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/klauspost/compress/zstd"

	"gridstore/internal/backend/core"
	"gridstore/pkg/domain"
)

// node is the payload of one path: an optional index and column-major cells.
type node struct {
	IndexName string           `json:"index_name,omitempty"`
	Index     []string         `json:"index,omitempty"`
	Columns   []string         `json:"columns"`
	Cells     [][]domain.Value `json:"cells"`
}

func fromFrame(f *core.Frame) *node {
	return &node{
		IndexName: f.IndexName,
		Index:     slices.Clone(f.Index),
		Columns:   slices.Clone(f.Columns),
		Cells:     slices.Clone(f.Cells),
	}
}

func (n *node) frame(path string) (*core.Frame, error) {
	f := core.NewFrame(n.IndexName, n.Index)
	for j, col := range n.Columns {
		if err := f.AddColumn(col, n.Cells[j]); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return f, nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// codec serialises nodes as JSON, zstd-compressed when a level is set.
// Decoding detects compression from the frame magic, so files written with
// any level are readable.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec(level int) (*codec, error) {
	c := &codec{}
	if level > 0 {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("hier: zstd encoder: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

func (c *codec) encode(n *node) ([]byte, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	if c.enc == nil {
		return raw, nil
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *codec) decode(raw []byte) (*node, error) {
	if bytes.HasPrefix(raw, zstdMagic) {
		if c.dec == nil {
			dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			c.dec = dec
		}
		out, err := c.dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, err
		}
		raw = out
	}
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	if len(n.Cells) != len(n.Columns) {
		return nil, fmt.Errorf("node has %d columns and %d cell vectors", len(n.Columns), len(n.Cells))
	}
	return &n, nil
}

func (c *codec) close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
