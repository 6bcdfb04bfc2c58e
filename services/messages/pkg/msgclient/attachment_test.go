package msgclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"xmtp-legacy/services/messages/pkg/envelope"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	data, ok := m[rawURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return append([]byte(nil), data...), nil
}

func encryptedAttachment(t *testing.T) (*EncryptedEncodedContent, Attachment) {
	t.Helper()
	a := Attachment{Filename: "test.txt", MimeType: "text/plain", Data: []byte("hello world")}
	ec, err := AttachmentCodec{}.Encode(a)
	require.NoError(t, err)
	enc, err := EncryptEncoded(ec)
	require.NoError(t, err)
	return enc, a
}

func TestEncryptedContentDecrypts(t *testing.T) {
	enc, a := encryptedAttachment(t)
	require.Len(t, enc.Secret, 32)
	require.Len(t, enc.ContentDigest, 64)

	ec, err := DecryptEncoded(*enc)
	require.NoError(t, err)
	require.Equal(t, ContentTypeAttachment, ec.Type)
	decoded, err := DefaultCodecs().Decode(ec)
	require.NoError(t, err)
	require.Equal(t, a, decoded)
}

func TestDecryptEncodedRejectsTampering(t *testing.T) {
	enc, _ := encryptedAttachment(t)

	flipped := *enc
	flipped.Payload = append([]byte(nil), enc.Payload...)
	flipped.Payload[0] ^= 0x01
	_, err := DecryptEncoded(flipped)
	require.ErrorIs(t, err, envelope.ErrDecryption)

	// Digest recomputed over the altered payload still fails the GCM tag.
	flipped.ContentDigest = payloadDigest(flipped.Payload)
	_, err = DecryptEncoded(flipped)
	require.ErrorIs(t, err, envelope.ErrDecryption)

	wrongKey := *enc
	wrongKey.Secret = make([]byte, 32)
	_, err = DecryptEncoded(wrongKey)
	require.ErrorIs(t, err, envelope.ErrDecryption)
}

func TestRemoteAttachmentRequiresHTTPS(t *testing.T) {
	enc, _ := encryptedAttachment(t)
	_, err := NewRemoteAttachment("http://files.example/abc", enc)
	require.ErrorIs(t, err, ErrInsecureAttachmentURL)

	_, _, err = DefaultCodecs().Encode(RemoteAttachment{URL: "ftp://files.example/abc"}, nil)
	require.ErrorIs(t, err, ErrInsecureAttachmentURL)
}

func TestRemoteAttachmentLoad(t *testing.T) {
	ctx := context.Background()
	reg := DefaultCodecs()
	enc, a := encryptedAttachment(t)
	const link = "https://files.example/abcdefg"

	remote, err := NewRemoteAttachment(link, enc)
	require.NoError(t, err)
	remote.Filename = a.Filename

	ec, _, err := reg.Encode(remote, nil)
	require.NoError(t, err)
	require.Equal(t, ContentTypeRemoteAttachment, ec.Type)
	decoded, err := reg.Decode(ec)
	require.NoError(t, err)
	got := decoded.(RemoteAttachment)
	require.Equal(t, remote, got)

	loaded, err := got.Load(ctx, mapFetcher{link: enc.Payload}, reg)
	require.NoError(t, err)
	require.Equal(t, a, loaded)

	_, err = got.Load(ctx, mapFetcher{link: []byte("sup")}, reg)
	require.ErrorIs(t, err, envelope.ErrDecryption)
}

func TestMultiRemoteAttachmentCodec(t *testing.T) {
	reg := DefaultCodecs()
	var multi MultiRemoteAttachment
	for _, link := range []string{"https://files.example/1", "https://files.example/2"} {
		enc, _ := encryptedAttachment(t)
		r, err := NewRemoteAttachment(link, enc)
		require.NoError(t, err)
		r.Filename = "test.txt"
		multi.Attachments = append(multi.Attachments, r)
	}

	ec, codec, err := reg.Encode(multi, nil)
	require.NoError(t, err)
	require.True(t, codec.ShouldPush(multi))
	require.Equal(t, "MultiRemoteAttachment not supported", ec.Fallback)

	decoded, err := reg.Decode(ec)
	require.NoError(t, err)
	require.Equal(t, multi, decoded)
}

func TestHTTPFetcherLoadsOverTLS(t *testing.T) {
	enc, a := encryptedAttachment(t)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blob" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(enc.Payload)
	}))
	defer srv.Close()

	remote, err := NewRemoteAttachment(srv.URL+"/blob", enc)
	require.NoError(t, err)
	fetcher := &HTTPFetcher{HTTP: srv.Client()}
	loaded, err := remote.Load(context.Background(), fetcher, DefaultCodecs())
	require.NoError(t, err)
	require.Equal(t, a, loaded)

	missing := remote
	missing.URL = srv.URL + "/gone"
	_, err = missing.Load(context.Background(), fetcher, DefaultCodecs())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}
