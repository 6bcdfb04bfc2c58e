package envelope

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"xmtp-legacy/internal/pbwire"
)

// MaxContentSize bounds decompressed content.
const MaxContentSize = 10 << 20

type ContentTypeID struct {
	AuthorityID  string
	TypeID       string
	VersionMajor uint32
	VersionMinor uint32
}

// ID identifies the content type independent of version.
func (c ContentTypeID) ID() string {
	return c.AuthorityID + ":" + c.TypeID
}

func (c ContentTypeID) String() string {
	return fmt.Sprintf("%s/%s:%d.%d", c.AuthorityID, c.TypeID, c.VersionMajor, c.VersionMinor)
}

func (c ContentTypeID) Marshal() []byte {
	var e pbwire.Encoder
	e.String(1, c.AuthorityID)
	e.String(2, c.TypeID)
	e.Uint64(3, uint64(c.VersionMajor))
	e.Uint64(4, uint64(c.VersionMinor))
	return e.Data()
}

func unmarshalContentTypeID(b []byte) (ContentTypeID, error) {
	var c ContentTypeID
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			c.AuthorityID = string(f.Bytes)
		case 2:
			c.TypeID = string(f.Bytes)
		case 3:
			c.VersionMajor = uint32(f.Varint)
		case 4:
			c.VersionMinor = uint32(f.Varint)
		}
		return nil
	})
	return c, err
}

type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
	CompressionGzip
)

// EncodedContent is the codec-produced payload carried inside a message.
type EncodedContent struct {
	Type        ContentTypeID
	Parameters  map[string]string
	Fallback    string
	Compression Compression
	Content     []byte
}

func (e EncodedContent) Marshal() []byte {
	var enc pbwire.Encoder
	enc.Message(1, e.Type.Marshal())
	enc.StringMap(2, e.Parameters)
	enc.String(3, e.Fallback)
	enc.Bytes(4, e.Content)
	enc.Uint64(5, uint64(e.Compression))
	return enc.Data()
}

func UnmarshalEncodedContent(b []byte) (EncodedContent, error) {
	var out EncodedContent
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			t, err := unmarshalContentTypeID(f.Bytes)
			if err != nil {
				return err
			}
			out.Type = t
		case 2:
			k, v, err := pbwire.ParseMapEntry(f.Bytes)
			if err != nil {
				return err
			}
			if out.Parameters == nil {
				out.Parameters = map[string]string{}
			}
			out.Parameters[k] = v
		case 3:
			out.Fallback = string(f.Bytes)
		case 4:
			out.Content = f.Bytes
		case 5:
			out.Compression = Compression(f.Varint)
		}
		return nil
	})
	if err != nil {
		return EncodedContent{}, fmt.Errorf("%w: encoded content: %v", ErrMalformedEnvelope, err)
	}
	return out, nil
}

// Compress returns a copy with Content compressed using c.
func (e EncodedContent) Compress(c Compression) (EncodedContent, error) {
	if e.Compression != CompressionNone {
		return e, nil
	}
	var buf bytes.Buffer
	switch c {
	case CompressionNone:
		return e, nil
	case CompressionDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return EncodedContent{}, err
		}
		if _, err := w.Write(e.Content); err != nil {
			return EncodedContent{}, err
		}
		if err := w.Close(); err != nil {
			return EncodedContent{}, err
		}
	case CompressionGzip:
		// gzip payloads carry the uncompressed length up front.
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(e.Content)))
		buf.Write(size[:])
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(e.Content); err != nil {
			return EncodedContent{}, err
		}
		if err := w.Close(); err != nil {
			return EncodedContent{}, err
		}
	default:
		return EncodedContent{}, fmt.Errorf("%w: %d", ErrUnsupportedCompression, c)
	}
	e.Content = buf.Bytes()
	e.Compression = c
	return e, nil
}

// Decompress reverses Compress. Content larger than MaxContentSize is rejected.
func (e EncodedContent) Decompress() (EncodedContent, error) {
	var r io.Reader
	switch e.Compression {
	case CompressionNone:
		return e, nil
	case CompressionDeflate:
		fr := flate.NewReader(bytes.NewReader(e.Content))
		defer fr.Close()
		r = fr
	case CompressionGzip:
		if len(e.Content) < 4 {
			return EncodedContent{}, fmt.Errorf("%w: short gzip payload", ErrMalformedEnvelope)
		}
		if binary.LittleEndian.Uint32(e.Content[:4]) > MaxContentSize {
			return EncodedContent{}, fmt.Errorf("%w: content too large", ErrMalformedEnvelope)
		}
		gr, err := gzip.NewReader(bytes.NewReader(e.Content[4:]))
		if err != nil {
			return EncodedContent{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		defer gr.Close()
		r = gr
	default:
		return EncodedContent{}, fmt.Errorf("%w: %d", ErrUnsupportedCompression, e.Compression)
	}
	out, err := io.ReadAll(io.LimitReader(r, MaxContentSize+1))
	if err != nil {
		return EncodedContent{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(out) > MaxContentSize {
		return EncodedContent{}, fmt.Errorf("%w: content too large", ErrMalformedEnvelope)
	}
	e.Content = out
	e.Compression = CompressionNone
	return e, nil
}
