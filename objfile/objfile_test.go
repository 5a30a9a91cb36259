package objfile_test

import (
	"bytes"
	"testing"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/objfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	payload := []byte("Hello world!\n")

	var buf bytes.Buffer
	_, err := objfile.Wrap(&buf, objfile.TypeBlob, payload)
	require.NoError(t, err)

	typ, got, err := objfile.ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, objfile.TypeBlob, typ)
	assert.Equal(t, payload, got)
}

func TestWrappedFormHashesToKnownOID(t *testing.T) {
	payload := []byte("Hello world!\n")
	wrapped := objfile.Header(objfile.TypeBlob, int64(len(payload)))
	wrapped = append(wrapped, payload...)

	o, err := hash.Sum(hash.FormatSHA1, wrapped)
	require.NoError(t, err)
	assert.Equal(t, "af5626b4a114abcb82d63db7c8082c3c4756e51b", o.String())
}

func TestUnwrapRejectsTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	_, err := objfile.Wrap(&buf, objfile.TypeBlob, []byte("short"))
	require.NoError(t, err)

	_, _, err = objfile.ReadAll(bytes.NewReader(buf.Bytes()[:2]))
	assert.Error(t, err)
}
