package pktline_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grahambrooks/gitkit/pktline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDataFraming(t *testing.T) {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString("hi\n"))
	assert.Equal(t, "0007hi\n", buf.String())
}

func TestFlushDecodesAlone(t *testing.T) {
	s := pktline.NewScanner(strings.NewReader("0000"))
	require.True(t, s.Scan())
	assert.Equal(t, pktline.Flush, s.Kind())
	require.False(t, s.Scan())
	require.NoError(t, s.Err())
}

func TestDataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteString("version 2\n"))
	require.NoError(t, w.Flush())

	s := pktline.NewScanner(&buf)
	require.True(t, s.Scan())
	assert.Equal(t, pktline.Data, s.Kind())
	assert.Equal(t, "version 2\n", string(s.Bytes()))
	require.True(t, s.Scan())
	assert.Equal(t, pktline.Flush, s.Kind())
}

func TestDelimAndResponseEnd(t *testing.T) {
	s := pktline.NewScanner(strings.NewReader("00010002"))
	require.True(t, s.Scan())
	assert.Equal(t, pktline.Delim, s.Kind())
	require.True(t, s.Scan())
	assert.Equal(t, pktline.ResponseEnd, s.Kind())
}

func TestSideBandDemuxRoutesChannels(t *testing.T) {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	mux := pktline.NewMuxer(w, pktline.MaxPayload64k)
	require.NoError(t, mux.WritePack([]byte("PACK...")))
	require.NoError(t, mux.WriteProgress([]byte("50% done\n")))
	require.NoError(t, mux.Close())
	require.NoError(t, w.Flush())

	var pack, progress bytes.Buffer
	err := pktline.Demux(&buf, pktline.Sinks{Pack: &pack, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, "PACK...\n", pack.String())
	assert.Equal(t, "50% done\n", progress.String())
}

func TestSideBandDemuxPropagatesErrorChannel(t *testing.T) {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	mux := pktline.NewMuxer(w, pktline.MaxPayload64k)
	require.NoError(t, mux.WriteError([]byte("fatal: denied")))
	require.NoError(t, w.Flush())

	err := pktline.Demux(&buf, pktline.Sinks{})
	require.Error(t, err)
	var sbErr *pktline.ErrSideBand
	require.ErrorAs(t, err, &sbErr)
	assert.Equal(t, "fatal: denied", sbErr.Message)
}

func TestSideBandIdentityForPackBytes(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 200000)

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	mux := pktline.NewMuxer(w, pktline.MaxPayload64k)
	require.NoError(t, mux.WritePack(payload))
	require.NoError(t, mux.Close())
	require.NoError(t, w.Flush())

	var pack bytes.Buffer
	require.NoError(t, pktline.Demux(&buf, pktline.Sinks{Pack: &pack}))
	assert.Equal(t, append(append([]byte{}, payload...), '\n'), pack.Bytes())
}
