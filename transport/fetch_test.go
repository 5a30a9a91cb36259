package transport_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/grahambrooks/gitkit/backend/memory"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/packfile"
	"github.com/grahambrooks/gitkit/pktline"
	"github.com/grahambrooks/gitkit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoundtripper struct {
	advertisement []byte
	uploadResp    []byte
}

func (f *fakeRoundtripper) Discover(ctx context.Context, service string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.advertisement)), nil
}

func (f *fakeRoundtripper) UploadPack(ctx context.Context, body io.Reader) (io.ReadCloser, error) {
	if _, err := io.ReadAll(body); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(f.uploadResp)), nil
}

func buildV1Advertisement(t *testing.T, oid hash.OID) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString(oid.String()+" refs/heads/main\x00ofs-delta\n"))
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func buildUploadPackResponse(t *testing.T, blobData []byte) ([]byte, hash.OID) {
	t.Helper()
	var packBuf bytes.Buffer
	enc, err := packfile.NewEncoder(&packBuf, hash.FormatSHA1, 1)
	require.NoError(t, err)
	require.NoError(t, enc.Put(packfile.TypeBlob, blobData))
	require.NoError(t, enc.Close())

	blobOID, err := hash.Sum(hash.FormatSHA1, append([]byte("blob 12\x00"), blobData...))
	require.NoError(t, err)

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString("NAK\n"))
	require.NoError(t, w.Flush())
	buf.Write(packBuf.Bytes())
	return buf.Bytes(), blobOID
}

func TestFetchDiscoversNegotiatesAndIndexesPack(t *testing.T) {
	wantOID := hash.MustFromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	adv := buildV1Advertisement(t, wantOID)
	blobData := []byte("hello world\n")
	uploadResp, blobOID := buildUploadPackResponse(t, blobData)

	rt := &fakeRoundtripper{advertisement: adv, uploadResp: uploadResp}
	store := objstore.New(memory.New(), hash.FormatSHA1)
	sess := transport.NewSession(rt, store)

	result, packReader, err := sess.Fetch(context.Background(), nil, transport.Options{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, transport.StateDone, sess.State())
	require.Len(t, result.Wants, 1)
	assert.Equal(t, wantOID, result.Wants[0])
	assert.Equal(t, 1, result.ObjectCount)
	require.NotNil(t, result.PackIndex)
	require.Len(t, result.PackIndex.Entries, 1)
	assert.Equal(t, blobOID, result.PackIndex.Entries[0].OID)

	packBytes, err := io.ReadAll(packReader)
	require.NoError(t, err)
	assert.NotEmpty(t, packBytes)
}

func buildShallowUploadPackResponse(t *testing.T, shallowOID hash.OID, blobData []byte) []byte {
	t.Helper()
	var packBuf bytes.Buffer
	enc, err := packfile.NewEncoder(&packBuf, hash.FormatSHA1, 1)
	require.NoError(t, err)
	require.NoError(t, enc.Put(packfile.TypeBlob, blobData))
	require.NoError(t, enc.Close())

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString("shallow "+shallowOID.String()+"\n"))
	require.NoError(t, w.Flush())
	require.NoError(t, w.WriteString("NAK\n"))
	require.NoError(t, w.Flush())
	buf.Write(packBuf.Bytes())
	return buf.Bytes()
}

func TestFetchWithDepthRecordsShallowBoundary(t *testing.T) {
	wantOID := hash.MustFromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	adv := buildV1Advertisement(t, wantOID)
	uploadResp := buildShallowUploadPackResponse(t, wantOID, []byte("shallow clone\n"))

	rt := &fakeRoundtripper{advertisement: adv, uploadResp: uploadResp}
	store := objstore.New(memory.New(), hash.FormatSHA1)
	sess := transport.NewSession(rt, store)

	result, _, err := sess.Fetch(context.Background(), nil, transport.Options{Depth: 1})
	require.NoError(t, err)
	require.Len(t, result.Shallow, 1)
	assert.Equal(t, wantOID, result.Shallow[0])
	assert.Equal(t, 1, result.ObjectCount)
}

func buildV1AdvertisementWithFilter(t *testing.T, oid hash.OID) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString(oid.String()+" refs/heads/main\x00ofs-delta filter\n"))
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

type capturingRoundtripper struct {
	fakeRoundtripper
	sentBody []byte
}

func (c *capturingRoundtripper) UploadPack(ctx context.Context, body io.Reader) (io.ReadCloser, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	c.sentBody = data
	return io.NopCloser(bytes.NewReader(c.uploadResp)), nil
}

func TestFetchWithFilterSendsFilterLineWhenNegotiated(t *testing.T) {
	wantOID := hash.MustFromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	adv := buildV1AdvertisementWithFilter(t, wantOID)
	uploadResp, _ := buildUploadPackResponse(t, []byte("x"))

	rt := &capturingRoundtripper{fakeRoundtripper: fakeRoundtripper{advertisement: adv, uploadResp: uploadResp}}
	store := objstore.New(memory.New(), hash.FormatSHA1)
	sess := transport.NewSession(rt, store)

	_, _, err := sess.Fetch(context.Background(), nil, transport.Options{Filter: transport.FilterBlobNone})
	require.NoError(t, err)
	assert.Contains(t, string(rt.sentBody), "filter blob:none")
}

func TestFetchUnknownRefErrors(t *testing.T) {
	adv := buildV1Advertisement(t, hash.MustFromHex("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	rt := &fakeRoundtripper{advertisement: adv}
	store := objstore.New(memory.New(), hash.FormatSHA1)
	sess := transport.NewSession(rt, store)

	result, packReader, err := sess.Fetch(context.Background(), nil, transport.Options{Refs: []string{"refs/heads/nonexistent"}})
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Nil(t, packReader)
}

func TestFetchHeadOnlyAdvertisementReturnsEarly(t *testing.T) {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString(hash.MustFromHex("cccccccccccccccccccccccccccccccccccccccc").String()+" HEAD\x00ofs-delta\n"))
	require.NoError(t, w.Flush())

	rt := &fakeRoundtripper{advertisement: buf.Bytes()}
	store := objstore.New(memory.New(), hash.FormatSHA1)
	sess := transport.NewSession(rt, store)

	result, packReader, err := sess.Fetch(context.Background(), nil, transport.Options{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Wants)
	assert.Nil(t, packReader)
}
