package gnn

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hdr := RequestHeader{Op: OpPull, Field1: 1, Field2: 2, Field3: 3, Field4: 4}
	require.NoError(t, hdr.WriteTo(&buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got, err := ReadRequestHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, hdr, got)
}

func TestReadRequestHeaderRejectsShortFrame(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HeaderSize-1))
	_, err := ReadRequestHeader(buf)
	assert.Error(t, err)
}

func TestChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewChunk(2, 8, 3, 10, 20, 1, Backward, 5, false)
	require.NoError(t, WriteChunk(&buf, c))

	got, err := ReadChunk(&buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestTensorRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ten := NewTensorFromData("h", 2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, WriteTensor(&buf, ten, false))

	hdr, err := ReadTensorHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "h", hdr.Name)
	assert.Equal(t, StatusOK, hdr.Status)

	got, err := ReadTensor(&buf, hdr)
	require.NoError(t, err)
	assert.Equal(t, ten.Data(), got.Data())
}

func TestErrorTensorCarriesNoPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteErrorTensor(&buf, StatusUnknownTensor, "bad"))

	hdr, err := ReadTensorHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknownTensor, hdr.Status)

	got, err := ReadTensor(&buf, hdr)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMultiPartMoreFlag(t *testing.T) {
	var buf bytes.Buffer
	t1 := NewTensorFromData("a", 1, 1, []float32{1})
	t2 := NewTensorFromData("b", 1, 1, []float32{2})
	require.NoError(t, WriteTensor(&buf, t1, true))
	require.NoError(t, WriteTensor(&buf, t2, false))

	var names []string
	for {
		hdr, err := ReadTensorHeader(&buf)
		require.NoError(t, err)
		ten, err := ReadTensor(&buf, hdr)
		require.NoError(t, err)
		names = append(names, ten.Name)
		if hdr.More == 0 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestDrainFramesKeepsSocketInSync(t *testing.T) {
	var buf bytes.Buffer
	t1 := NewTensorFromData("a", 2, 2, []float32{1, 2, 3, 4})
	require.NoError(t, WriteTensor(&buf, t1, false))
	require.NoError(t, buf.WriteByte('X')) // sentinel trailing byte

	r := bufio.NewReader(&buf)
	require.NoError(t, DrainFrames(r, 1))

	trailing, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('X'), trailing)
}

func TestAckRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAck(&buf, StatusDiscardedLate))
	got, err := ReadAck(&buf)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscardedLate, got)
}
