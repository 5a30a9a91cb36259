package packfile_test

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/packfile"
	"github.com/grahambrooks/gitkit/varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, packfile.WriteHeader(&buf, 3))

	h, err := packfile.ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(packfile.SupportedVersion), h.Version)
	assert.Equal(t, uint32(3), h.ObjectsLen)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("NOPE00000000")
	_, err := packfile.ReadHeader(buf)
	assert.Error(t, err)
}

func TestEncodeThenScanWholeObjects(t *testing.T) {
	var buf bytes.Buffer
	enc, err := packfile.NewEncoder(&buf, hash.FormatSHA1, 2)
	require.NoError(t, err)
	require.NoError(t, enc.Put(packfile.TypeBlob, []byte("Hello world!\n")))
	require.NoError(t, enc.Put(packfile.TypeTree, []byte{}))
	require.NoError(t, enc.Close())

	r := bytes.NewReader(buf.Bytes())
	_, err = packfile.ReadHeader(r)
	require.NoError(t, err)

	scanner := packfile.NewScanner(r, 2, 12)
	first, err := scanner.Next()
	require.NoError(t, err)
	assert.Equal(t, packfile.TypeBlob, first.Type)
	assert.Equal(t, []byte("Hello world!\n"), first.Data)

	second, err := scanner.Next()
	require.NoError(t, err)
	assert.Equal(t, packfile.TypeTree, second.Type)
	assert.Empty(t, second.Data)

	_, err = scanner.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestApplyDeltaCopyAndInsert(t *testing.T) {
	base := []byte("the quick brown fox")
	require.Len(t, base, 19)
	// copy base[4:15) "quick brown", insert " jumps", copy base[15:19) " fox"
	var delta []byte
	delta = append(delta, encodeSize(len(base))...)
	delta = append(delta, encodeSize(21)...)
	// copy opcode: offset=4 (1 byte), size=11 (1 byte)
	delta = append(delta, 0x80|0x01|0x10, 4, 11)
	// insert " jumps" (6 bytes)
	delta = append(delta, 6)
	delta = append(delta, []byte(" jumps")...)
	// copy opcode: offset=15, size=4
	delta = append(delta, 0x80|0x01|0x10, 15, 4)

	out, err := packfile.ApplyDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, "quick brown jumps fox", string(out))
}

func TestReaderResolvesOFSDeltaChain(t *testing.T) {
	base := []byte("the quick brown fox")
	target := []byte("the slow brown fox")
	delta := buildInsertOnlyDelta(len(base), target)

	var full bytes.Buffer
	require.NoError(t, packfile.WriteHeader(&full, 2))

	baseOffset := int64(full.Len())
	writeWholeEntry(t, &full, packfile.TypeBlob, base)

	deltaOffset := int64(full.Len())
	writeOFSDeltaEntry(t, &full, deltaOffset-baseOffset, delta)

	r := bytes.NewReader(full.Bytes())
	_, err := packfile.ReadHeader(r)
	require.NoError(t, err)

	reader := packfile.NewReader(r, 2, 12, nil)
	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, base, first.Data)

	second, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, packfile.TypeBlob, second.Type)
	assert.Equal(t, string(target), string(second.Data))
}

func writeWholeEntry(t *testing.T, buf *bytes.Buffer, typ packfile.ObjType, data []byte) {
	t.Helper()
	buf.Write(varint.EncodeObjectHeader(int(typ), int64(len(data))))
	zw := zlib.NewWriter(buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}

func writeOFSDeltaEntry(t *testing.T, buf *bytes.Buffer, relativeOffset int64, delta []byte) {
	t.Helper()
	buf.Write(varint.EncodeObjectHeader(int(packfile.TypeOFSDelta), int64(len(delta))))
	buf.Write(varint.EncodeOffset(relativeOffset))
	zw := zlib.NewWriter(buf)
	_, err := zw.Write(delta)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}

func encodeSize(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

func buildInsertOnlyDelta(srcSize int, target []byte) []byte {
	var out []byte
	out = append(out, encodeSize(srcSize)...)
	out = append(out, encodeSize(len(target))...)
	out = append(out, byte(len(target)))
	out = append(out, target...)
	return out
}
