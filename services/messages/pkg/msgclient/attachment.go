package msgclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

var (
	ContentTypeAttachment            = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "attachment", VersionMajor: 1}
	ContentTypeRemoteAttachment      = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "remoteStaticAttachment", VersionMajor: 1}
	ContentTypeMultiRemoteAttachment = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "multiRemoteStaticAttachment", VersionMajor: 1}
)

const maxAttachmentBytes = 50 << 20

var ErrInsecureAttachmentURL = errors.New("msgclient: remote attachment URL must use https")

// Attachment is a file sent inline.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

type AttachmentCodec struct{}

func (AttachmentCodec) ContentType() envelope.ContentTypeID { return ContentTypeAttachment }

func (AttachmentCodec) Encode(content any) (envelope.EncodedContent, error) {
	a, err := asAttachment(content)
	if err != nil {
		return envelope.EncodedContent{}, err
	}
	return envelope.EncodedContent{
		Type:       ContentTypeAttachment,
		Parameters: map[string]string{"filename": a.Filename, "mimeType": a.MimeType},
		Content:    a.Data,
	}, nil
}

func (AttachmentCodec) Decode(ec envelope.EncodedContent) (any, error) {
	return Attachment{
		Filename: ec.Parameters["filename"],
		MimeType: ec.Parameters["mimeType"],
		Data:     ec.Content,
	}, nil
}

func (AttachmentCodec) Fallback(content any) string {
	a, err := asAttachment(content)
	if err != nil {
		return ""
	}
	return "Can’t display " + a.Filename + ". This app doesn’t support attachments."
}

func (AttachmentCodec) ShouldPush(any) bool { return true }

func asAttachment(content any) (Attachment, error) {
	switch v := content.(type) {
	case Attachment:
		return v, nil
	case *Attachment:
		return *v, nil
	}
	return Attachment{}, fmt.Errorf("attachment codec: unsupported content %T", content)
}

// EncryptedEncodedContent is EncodedContent sealed under a one-off secret.
// Payload is uploaded; the rest travels in the message.
type EncryptedEncodedContent struct {
	ContentDigest string
	Secret        []byte
	Salt          []byte
	Nonce         []byte
	Payload       []byte
}

// EncryptEncoded seals ec under a fresh random secret. ContentDigest is the
// hex sha256 of the resulting payload.
func EncryptEncoded(ec envelope.EncodedContent) (*EncryptedEncodedContent, error) {
	secret, err := cryptocore.RandomBytes(cryptocore.KeySize)
	if err != nil {
		return nil, err
	}
	ct, err := cryptocore.Encrypt(secret, ec.Marshal(), nil)
	if err != nil {
		return nil, err
	}
	return &EncryptedEncodedContent{
		ContentDigest: payloadDigest(ct.Payload),
		Secret:        secret,
		Salt:          ct.HkdfSalt,
		Nonce:         ct.GcmNonce,
		Payload:       ct.Payload,
	}, nil
}

// DecryptEncoded checks the payload digest and opens it. A digest or tag
// mismatch is ErrDecryption; corrupted content is never returned.
func DecryptEncoded(enc EncryptedEncodedContent) (envelope.EncodedContent, error) {
	if payloadDigest(enc.Payload) != strings.ToLower(enc.ContentDigest) {
		return envelope.EncodedContent{}, fmt.Errorf("%w: content digest mismatch", envelope.ErrDecryption)
	}
	plaintext, err := cryptocore.Decrypt(enc.Secret, &cryptocore.Ciphertext{
		HkdfSalt: enc.Salt,
		GcmNonce: enc.Nonce,
		Payload:  enc.Payload,
	}, nil)
	if err != nil {
		return envelope.EncodedContent{}, err
	}
	return envelope.UnmarshalEncodedContent(plaintext)
}

func payloadDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// RemoteAttachment points at an encrypted payload stored elsewhere.
type RemoteAttachment struct {
	URL           string
	ContentDigest string
	Secret        []byte
	Salt          []byte
	Nonce         []byte
	Scheme        string
	ContentLength int
	Filename      string
}

// NewRemoteAttachment describes enc uploaded at rawURL, which must be https.
func NewRemoteAttachment(rawURL string, enc *EncryptedEncodedContent) (RemoteAttachment, error) {
	if err := checkAttachmentURL(rawURL); err != nil {
		return RemoteAttachment{}, err
	}
	return RemoteAttachment{
		URL:           rawURL,
		ContentDigest: enc.ContentDigest,
		Secret:        enc.Secret,
		Salt:          enc.Salt,
		Nonce:         enc.Nonce,
		Scheme:        "https://",
		ContentLength: len(enc.Payload),
	}, nil
}

func checkAttachmentURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsecureAttachmentURL, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return ErrInsecureAttachmentURL
	}
	return nil
}

// Encrypted pairs the attachment's key parameters with a fetched payload.
func (r RemoteAttachment) Encrypted(payload []byte) EncryptedEncodedContent {
	return EncryptedEncodedContent{
		ContentDigest: r.ContentDigest,
		Secret:        r.Secret,
		Salt:          r.Salt,
		Nonce:         r.Nonce,
		Payload:       payload,
	}
}

// Fetcher downloads remote attachment payloads.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type HTTPFetcher struct {
	HTTP *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	hc := f.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: "fetch attachment", Status: resp.StatusCode, Message: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("fetch attachment: payload exceeds %d bytes", maxAttachmentBytes)
	}
	return data, nil
}

// Load fetches, verifies and decrypts the payload, then decodes it with reg.
func (r RemoteAttachment) Load(ctx context.Context, f Fetcher, reg *CodecRegistry) (any, error) {
	if err := checkAttachmentURL(r.URL); err != nil {
		return nil, err
	}
	payload, err := f.Fetch(ctx, r.URL)
	if err != nil {
		return nil, fmt.Errorf("load attachment: %w", err)
	}
	ec, err := DecryptEncoded(r.Encrypted(payload))
	if err != nil {
		return nil, err
	}
	return reg.Decode(ec)
}

type RemoteAttachmentCodec struct{}

func (RemoteAttachmentCodec) ContentType() envelope.ContentTypeID { return ContentTypeRemoteAttachment }

func (RemoteAttachmentCodec) Encode(content any) (envelope.EncodedContent, error) {
	r, err := asRemoteAttachment(content)
	if err != nil {
		return envelope.EncodedContent{}, err
	}
	if err := checkAttachmentURL(r.URL); err != nil {
		return envelope.EncodedContent{}, err
	}
	params := map[string]string{
		"contentDigest": r.ContentDigest,
		"secret":        hex.EncodeToString(r.Secret),
		"salt":          hex.EncodeToString(r.Salt),
		"nonce":         hex.EncodeToString(r.Nonce),
		"scheme":        r.Scheme,
		"contentLength": strconv.Itoa(r.ContentLength),
	}
	if r.Filename != "" {
		params["filename"] = r.Filename
	}
	return envelope.EncodedContent{Type: ContentTypeRemoteAttachment, Parameters: params, Content: []byte(r.URL)}, nil
}

func (RemoteAttachmentCodec) Decode(ec envelope.EncodedContent) (any, error) {
	p := ec.Parameters
	r := RemoteAttachment{
		URL:           string(ec.Content),
		ContentDigest: p["contentDigest"],
		Scheme:        p["scheme"],
		Filename:      p["filename"],
	}
	var err error
	for name, dst := range map[string]*[]byte{"secret": &r.Secret, "salt": &r.Salt, "nonce": &r.Nonce} {
		if *dst, err = hex.DecodeString(p[name]); err != nil {
			return nil, fmt.Errorf("remote attachment codec: %s: %w", name, err)
		}
	}
	if v := p["contentLength"]; v != "" {
		if r.ContentLength, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("remote attachment codec: content length: %w", err)
		}
	}
	return r, nil
}

func (RemoteAttachmentCodec) Fallback(content any) string {
	r, err := asRemoteAttachment(content)
	if err != nil {
		return ""
	}
	return "Can’t display " + r.Filename + ". This app doesn’t support attachments."
}

func (RemoteAttachmentCodec) ShouldPush(any) bool { return true }

func asRemoteAttachment(content any) (RemoteAttachment, error) {
	switch v := content.(type) {
	case RemoteAttachment:
		return v, nil
	case *RemoteAttachment:
		return *v, nil
	}
	return RemoteAttachment{}, fmt.Errorf("remote attachment codec: unsupported content %T", content)
}

// MultiRemoteAttachment sends several remote attachments in one message.
type MultiRemoteAttachment struct {
	Attachments []RemoteAttachment
}

type MultiRemoteAttachmentCodec struct{}

func (MultiRemoteAttachmentCodec) ContentType() envelope.ContentTypeID {
	return ContentTypeMultiRemoteAttachment
}

func (MultiRemoteAttachmentCodec) Encode(content any) (envelope.EncodedContent, error) {
	var m MultiRemoteAttachment
	switch v := content.(type) {
	case MultiRemoteAttachment:
		m = v
	case *MultiRemoteAttachment:
		m = *v
	default:
		return envelope.EncodedContent{}, fmt.Errorf("multi remote attachment codec: unsupported content %T", content)
	}
	var e pbwire.Encoder
	for _, r := range m.Attachments {
		if err := checkAttachmentURL(r.URL); err != nil {
			return envelope.EncodedContent{}, err
		}
		var info pbwire.Encoder
		info.String(1, r.ContentDigest)
		info.Bytes(2, r.Secret)
		info.Bytes(3, r.Nonce)
		info.Bytes(4, r.Salt)
		info.String(5, r.Scheme)
		info.String(6, r.URL)
		info.Uint64(7, uint64(r.ContentLength))
		info.String(8, r.Filename)
		e.Message(1, info.Data())
	}
	return envelope.EncodedContent{Type: ContentTypeMultiRemoteAttachment, Content: e.Data()}, nil
}

func (MultiRemoteAttachmentCodec) Decode(ec envelope.EncodedContent) (any, error) {
	var out MultiRemoteAttachment
	err := pbwire.Parse(ec.Content, func(f pbwire.Field) error {
		if f.Num != 1 {
			return nil
		}
		var r RemoteAttachment
		err := pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
			switch g.Num {
			case 1:
				r.ContentDigest = string(g.Bytes)
			case 2:
				r.Secret = g.Bytes
			case 3:
				r.Nonce = g.Bytes
			case 4:
				r.Salt = g.Bytes
			case 5:
				r.Scheme = string(g.Bytes)
			case 6:
				r.URL = string(g.Bytes)
			case 7:
				r.ContentLength = int(g.Varint)
			case 8:
				r.Filename = string(g.Bytes)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out.Attachments = append(out.Attachments, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("multi remote attachment codec: %w", err)
	}
	return out, nil
}

func (MultiRemoteAttachmentCodec) Fallback(any) string { return "MultiRemoteAttachment not supported" }

func (MultiRemoteAttachmentCodec) ShouldPush(any) bool { return true }
