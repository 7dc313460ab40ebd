package gnn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Op is a dispatch-protocol op code (spec.md §6). Values match the
// original wire format byte-for-byte so graph server, weight server and
// compute worker agree regardless of which binary was built when.
type Op uint32

const (
	OpPull      Op = 1
	OpPush      Op = 2
	OpPullE     Op = 3
	OpPushE     Op = 4
	OpPullEInfo Op = 5
	OpEval      Op = 6
	OpFin       Op = 7
	OpTerm      Op = 8
	OpResp      Op = 9
	OpInfo      Op = 10 // weight-server-only: set expectedTotal for a round
)

// Status codes carried in a tensor header in place of a real status when
// no data follows (spec.md §6, §7).
const (
	StatusOK              int32 = 0
	StatusDiscardedLate   int32 = -1
	StatusUnknownTensor   int32 = -2
	StatusMalformedHeader int32 = -3
)

// HEADER_SIZE and TENSOR_HDR_SIZE are fixed per spec.md §6.
const (
	HeaderSize    = 20
	TensorHdrSize = 24
	chunkWireSize = 28 // LocalID,GlobalID,LowBound,UpBound,Layer,Dir,Epoch, 7*4 bytes; Vertex rides a trailing word
)

// RequestHeader is the fixed-size frame every message starts with:
// {op: u32, field1..4: u32} = 20 bytes.
type RequestHeader struct {
	Op     Op
	Field1 uint32
	Field2 uint32
	Field3 uint32
	Field4 uint32
}

// WriteTo encodes the header in 20 bytes, big-endian, matching HeaderSize.
func (h RequestHeader) WriteTo(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Op))
	binary.BigEndian.PutUint32(buf[4:8], h.Field1)
	binary.BigEndian.PutUint32(buf[8:12], h.Field2)
	binary.BigEndian.PutUint32(buf[12:16], h.Field3)
	binary.BigEndian.PutUint32(buf[16:20], h.Field4)
	_, err := w.Write(buf[:])
	return err
}

// ReadRequestHeader reads and validates a fixed-size request header. A
// size mismatch is a protocol violation (spec.md §7c): the caller logs
// and closes the connection but the process keeps serving other sockets.
func ReadRequestHeader(r io.Reader) (RequestHeader, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return RequestHeader{}, err
	}
	return RequestHeader{
		Op:     Op(binary.BigEndian.Uint32(buf[0:4])),
		Field1: binary.BigEndian.Uint32(buf[4:8]),
		Field2: binary.BigEndian.Uint32(buf[8:12]),
		Field3: binary.BigEndian.Uint32(buf[12:16]),
		Field4: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// TensorHeader is the fixed 24-byte block {status: u32, name[8], 4 zero
// pad bytes, rows: u32, cols: u32} followed by a separate more: u32 word,
// preceding each tensor's raw row-slab. "more" implements the multi-part
// frame boundary flag (spec.md §6): the receiver loops reading tensors
// while more != 0.
type TensorHeader struct {
	Status int32
	Name   string
	Rows   uint32
	Cols   uint32
	More   uint32
}

func (h TensorHeader) WriteTo(w io.Writer) error {
	var buf [TensorHdrSize]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Status))
	var nameBuf [MaxTensorName]byte
	copy(nameBuf[:], h.Name)
	copy(buf[4:4+MaxTensorName], nameBuf[:])
	binary.BigEndian.PutUint32(buf[16:20], h.Rows)
	binary.BigEndian.PutUint32(buf[20:24], h.Cols)
	_, err := w.Write(buf[:])
	if err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, h.More)
}

// tensorHdrWireSize is TensorHdrSize plus the trailing more-flag word;
// spec.md fixes TENSOR_HDR_SIZE at 24 bytes for the status/name/rows/cols
// block, so the continuation flag rides as a separate word after it.
const tensorHdrWireSize = TensorHdrSize + 4

func ReadTensorHeader(r io.Reader) (TensorHeader, error) {
	var buf [tensorHdrWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return TensorHeader{}, err
	}
	name := trimNull(buf[4 : 4+MaxTensorName])
	return TensorHeader{
		Status: int32(binary.BigEndian.Uint32(buf[0:4])),
		Name:   name,
		Rows:   binary.BigEndian.Uint32(buf[16:20]),
		Cols:   binary.BigEndian.Uint32(buf[20:24]),
		More:   binary.BigEndian.Uint32(buf[24:28]),
	}, nil
}

func trimNull(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// WriteChunk encodes a chunk descriptor in a fixed-size block.
func WriteChunk(w io.Writer, c Chunk) error {
	var buf [chunkWireSize]byte
	binary.BigEndian.PutUint32(buf[0:4], c.LocalID)
	binary.BigEndian.PutUint32(buf[4:8], c.GlobalID)
	binary.BigEndian.PutUint32(buf[8:12], c.LowBound)
	binary.BigEndian.PutUint32(buf[12:16], c.UpBound)
	binary.BigEndian.PutUint32(buf[16:20], c.Layer)
	binary.BigEndian.PutUint32(buf[20:24], uint32(c.Dir))
	binary.BigEndian.PutUint32(buf[24:28], c.Epoch)
	_, err := w.Write(buf[:])
	if err != nil {
		return err
	}
	var vb [4]byte
	if c.Vertex {
		vb[0] = 1
	}
	_, err = w.Write(vb[:])
	return err
}

// ReadChunk decodes a chunk descriptor written by WriteChunk.
func ReadChunk(r io.Reader) (Chunk, error) {
	var buf [chunkWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Chunk{}, err
	}
	var vb [4]byte
	if _, err := io.ReadFull(r, vb[:]); err != nil {
		return Chunk{}, err
	}
	return Chunk{
		LocalID:  binary.BigEndian.Uint32(buf[0:4]),
		GlobalID: binary.BigEndian.Uint32(buf[4:8]),
		LowBound: binary.BigEndian.Uint32(buf[8:12]),
		UpBound:  binary.BigEndian.Uint32(buf[12:16]),
		Layer:    binary.BigEndian.Uint32(buf[16:20]),
		Dir:      Direction(binary.BigEndian.Uint32(buf[20:24])),
		Epoch:    binary.BigEndian.Uint32(buf[24:28]),
		Vertex:   vb[0] != 0,
	}, nil
}

// WriteTensor writes a tensor header followed by its raw row-slab,
// big-endian float32 per element.
func WriteTensor(w io.Writer, t *Tensor, more bool) error {
	hdr := TensorHeader{Status: StatusOK, Name: t.Name, Rows: uint32(t.Rows), Cols: uint32(t.Cols)}
	if more {
		hdr.More = 1
	}
	if err := hdr.WriteTo(w); err != nil {
		return err
	}
	return writeFloat32Slab(w, t.Data())
}

// WriteErrorTensor writes a status-only header with no following data,
// the negative ack path for unknown names and stale chunks (spec.md §6,§7).
func WriteErrorTensor(w io.Writer, status int32, name string) error {
	hdr := TensorHeader{Status: status, Name: name}
	return hdr.WriteTo(w)
}

// ReadTensor reads one tensor frame given its header, returning nil data
// (but a valid header) when Status != StatusOK.
func ReadTensor(r io.Reader, hdr TensorHeader) (*Tensor, error) {
	if hdr.Status != StatusOK {
		return nil, nil
	}
	n := int(hdr.Rows) * int(hdr.Cols)
	data, err := readFloat32Slab(r, n)
	if err != nil {
		return nil, err
	}
	return NewTensorFromData(hdr.Name, int(hdr.Rows), int(hdr.Cols), data), nil
}

func writeFloat32Slab(w io.Writer, data []float32) error {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

func readFloat32Slab(r io.Reader, n int) ([]float32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out, nil
}

// DrainFrames discards numTensors tensor frames without decoding their
// payload, keeping the socket in frame-sync after a request is rejected
// as stale (spec.md §4.2's "drain the remaining frames" discipline).
func DrainFrames(r *bufio.Reader, numTensors int) error {
	for i := 0; i < numTensors; i++ {
		hdr, err := ReadTensorHeader(r)
		if err != nil {
			return err
		}
		if hdr.Status == StatusOK {
			n := int(hdr.Rows) * int(hdr.Cols) * 4
			if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteAck/ReadAck carry a single int32 status, used by PUSH/PUSHE/FIN
// acks and the weight-server's implicit EVAL/no-ack operations.
func WriteAck(w io.Writer, status int32) error {
	return binary.Write(w, binary.BigEndian, status)
}

func ReadAck(r io.Reader) (int32, error) {
	var status int32
	err := binary.Read(r, binary.BigEndian, &status)
	return status, err
}

// WriteNameList writes n fixed-width tensor names, the PULL request body
// naming which tensors the caller wants (spec.md §6).
func WriteNameList(w io.Writer, names []string) error {
	for _, name := range names {
		var buf [MaxTensorName]byte
		copy(buf[:], name)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// ReadNameList reads n fixed-width tensor names written by WriteNameList.
func ReadNameList(r io.Reader, n int) ([]string, error) {
	names := make([]string, n)
	var buf [MaxTensorName]byte
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		names[i] = trimNull(buf[:])
	}
	return names, nil
}

// WriteIDList writes n big-endian u32 global vertex ids, the ghost-update
// message's row-identity list (spec.md §4.4).
func WriteIDList(w io.Writer, ids []uint32) error {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], id)
	}
	_, err := w.Write(buf)
	return err
}

// ReadIDList reads n ids written by WriteIDList.
func ReadIDList(r io.Reader, n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out, nil
}

// WriteEvalBody writes the (acc, loss) pair an EVAL request carries.
func WriteEvalBody(w io.Writer, acc, loss float32) error {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], math.Float32bits(acc))
	binary.BigEndian.PutUint32(buf[4:8], math.Float32bits(loss))
	_, err := w.Write(buf[:])
	return err
}

// ReadEvalBody reads the (acc, loss) pair written by WriteEvalBody.
func ReadEvalBody(r io.Reader) (acc, loss float32, err error) {
	var buf [8]byte
	if _, err = io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	acc = math.Float32frombits(binary.BigEndian.Uint32(buf[0:4]))
	loss = math.Float32frombits(binary.BigEndian.Uint32(buf[4:8]))
	return acc, loss, nil
}

// EdgeInfoHeader is the PULLEINFO response: the number of local vertex ids
// and edges in the chunk's edge-tensor, followed by a column-pointer slab
// (spec.md §6's RPC table).
type EdgeInfoHeader struct {
	NumLvids uint32
	NumEdges uint32
}

func WriteEdgeInfo(w io.Writer, hdr EdgeInfoHeader, colPtr []int32) error {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], hdr.NumLvids)
	binary.BigEndian.PutUint32(buf[4:8], hdr.NumEdges)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return writeInt32Slab(w, colPtr)
}

func ReadEdgeInfo(r io.Reader) (EdgeInfoHeader, []int32, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return EdgeInfoHeader{}, nil, err
	}
	hdr := EdgeInfoHeader{
		NumLvids: binary.BigEndian.Uint32(buf[0:4]),
		NumEdges: binary.BigEndian.Uint32(buf[4:8]),
	}
	colPtr, err := readInt32Slab(r, int(hdr.NumLvids)+1)
	if err != nil {
		return EdgeInfoHeader{}, nil, err
	}
	return hdr, colPtr, nil
}

func writeInt32Slab(w io.Writer, data []int32) error {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], uint32(v))
	}
	_, err := w.Write(buf)
	return err
}

func readInt32Slab(r io.Reader, n int) ([]int32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out, nil
}

// ValidateHeaderSize checks a raw byte count against HeaderSize, for
// spec.md §8 scenario 4 (a header whose size != HEADER_SIZE must be
// rejected without a crash). The listeners in this repository do not call
// it; they read headers with ReadRequestHeader.
func ValidateHeaderSize(n int) error {
	if n != HeaderSize {
		return fmt.Errorf("malformed request header: got %d bytes, want %d", n, HeaderSize)
	}
	return nil
}
