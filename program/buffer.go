package program

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
)

// Buffer is the payload of a send instruction: Base bytes, optionally
// filled up to Size with the Fill pattern.
type Buffer struct {
	Base []byte
	Size int
	Fill []byte
}

// NewBuffer keeps size and fill only when size extends past base.
func NewBuffer(base []byte, size int, fill []byte) Buffer {
	b := Buffer{Base: base}
	if size > len(base) {
		b.Size = size
		if len(fill) > 0 {
			b.Fill = fill
		}
	}
	return b
}

// Len is the number of bytes put on the wire.
func (b Buffer) Len() int {
	if b.Size > len(b.Base) {
		return b.Size
	}
	return len(b.Base)
}

func (b Buffer) padded() bool { return b.Size > len(b.Base) }

// Key is the structural identity of the buffer. A fill descriptor never
// collides with a plain buffer.
func (b Buffer) Key() string {
	if !b.padded() {
		return "b:" + string(b.Base)
	}
	key := "d:" + strconv.Itoa(b.Size) + ":" + strconv.Itoa(len(b.Base)) + ":" + string(b.Base)
	if b.Fill != nil {
		key += ":f:" + string(b.Fill)
	}
	return key
}

// MarshalJSON emits a base64 string, or {base, size, fill} for padded buffers.
func (b Buffer) MarshalJSON() ([]byte, error) {
	base := base64.StdEncoding.EncodeToString(b.Base)
	if !b.padded() {
		return json.Marshal(base)
	}
	d := struct {
		Base string `json:"base"`
		Size int    `json:"size"`
		Fill string `json:"fill,omitempty"`
	}{Base: base, Size: b.Size}
	if b.Fill != nil {
		d.Fill = base64.StdEncoding.EncodeToString(b.Fill)
	}
	return json.Marshal(d)
}
