package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	errStringTooLong = errors.New("protocol: string exceeds 64KB limit")
	errTooManyItems  = errors.New("protocol: list exceeds 64K items")
	errPayloadShort  = errors.New("protocol: payload too short")
	errExtraBytes    = errors.New("protocol: payload has trailing data")
)

// Error codes carried by ErrorFrame.
const (
	ErrCodeUnknownSheet uint16 = iota + 1
	ErrCodeRange
	ErrCodeBadRequest
	ErrCodeInternal
)

// OpenSheet asks the server to start a session on the named sheet. An
// empty name selects the server's default sheet.
type OpenSheet struct {
	SheetName string
}

// SheetInfo answers an OpenSheet with the assigned session id and the
// sheet's extent.
type SheetInfo struct {
	SessionID [16]byte
	SheetName string
	TotalRows uint64
	TotalCols uint64
}

// HeadersRequest asks for the labels of colCount columns from colStart.
type HeadersRequest struct {
	ColStart uint64
	ColCount uint32
}

// HeadersResponse carries exactly the requested column labels.
type HeadersResponse struct {
	ColStart uint64
	Names    []string
}

// RowsRequest asks for up to RowCount rows from RowStart, restricted to
// the given column range.
type RowsRequest struct {
	RowStart uint64
	RowCount uint32
	ColStart uint64
	ColCount uint32
}

// RowChunk is one row of cell text, tagged with its absolute row index.
type RowChunk struct {
	Index uint64
	Cells []string
}

// RowsResponse carries the fetched rows. Fewer rows than requested come
// back only at the grid's end.
type RowsResponse struct {
	Rows []RowChunk
}

// Ping/Pong keep the connection alive and measure round trips.
type Ping struct {
	Timestamp int64
}

type Pong struct {
	Timestamp int64
}

// ErrorFrame answers a request that could not be served.
type ErrorFrame struct {
	Code    uint16
	Message string
}

func encodeString(buf *bytes.Buffer, value string) error {
	if len(value) > 0xFFFF {
		return errStringTooLong
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(value))); err != nil {
		return err
	}
	if len(value) > 0 {
		if _, err := buf.WriteString(value); err != nil {
			return err
		}
	}
	return nil
}

func decodeString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errPayloadShort
	}
	length := binary.LittleEndian.Uint16(b[:2])
	b = b[2:]
	if uint16(len(b)) < length {
		return "", nil, errPayloadShort
	}
	return string(b[:length]), b[length:], nil
}

func encodeStringList(buf *bytes.Buffer, values []string) error {
	if len(values) > 0xFFFF {
		return errTooManyItems
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := encodeString(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeStringList(b []byte) ([]string, []byte, error) {
	if len(b) < 2 {
		return nil, nil, errPayloadShort
	}
	count := binary.LittleEndian.Uint16(b[:2])
	b = b[2:]
	values := make([]string, count)
	for i := 0; i < int(count); i++ {
		var err error
		values[i], b, err = decodeString(b)
		if err != nil {
			return nil, nil, err
		}
	}
	return values, b, nil
}

func EncodeOpenSheet(o OpenSheet) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(o.SheetName)))
	if err := encodeString(buf, o.SheetName); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeOpenSheet(b []byte) (OpenSheet, error) {
	var o OpenSheet
	name, rest, err := decodeString(b)
	if err != nil {
		return o, err
	}
	if len(rest) != 0 {
		return o, errExtraBytes
	}
	o.SheetName = name
	return o, nil
}

func EncodeSheetInfo(s SheetInfo) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 34+len(s.SheetName)))
	buf.Write(s.SessionID[:])
	if err := encodeString(buf, s.SheetName); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, s.TotalRows); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, s.TotalCols); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeSheetInfo(b []byte) (SheetInfo, error) {
	var s SheetInfo
	if len(b) < 16 {
		return s, errPayloadShort
	}
	copy(s.SessionID[:], b[:16])
	name, rest, err := decodeString(b[16:])
	if err != nil {
		return s, err
	}
	s.SheetName = name
	if len(rest) < 16 {
		return s, errPayloadShort
	}
	s.TotalRows = binary.LittleEndian.Uint64(rest[:8])
	s.TotalCols = binary.LittleEndian.Uint64(rest[8:16])
	return s, nil
}

func EncodeHeadersRequest(r HeadersRequest) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 12))
	if err := binary.Write(buf, binary.LittleEndian, r.ColStart); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.ColCount); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeHeadersRequest(b []byte) (HeadersRequest, error) {
	var r HeadersRequest
	if len(b) < 12 {
		return r, errPayloadShort
	}
	r.ColStart = binary.LittleEndian.Uint64(b[:8])
	r.ColCount = binary.LittleEndian.Uint32(b[8:12])
	return r, nil
}

func EncodeHeadersResponse(r HeadersResponse) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.LittleEndian, r.ColStart); err != nil {
		return nil, err
	}
	if err := encodeStringList(buf, r.Names); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeHeadersResponse(b []byte) (HeadersResponse, error) {
	var r HeadersResponse
	if len(b) < 8 {
		return r, errPayloadShort
	}
	r.ColStart = binary.LittleEndian.Uint64(b[:8])
	names, rest, err := decodeStringList(b[8:])
	if err != nil {
		return r, err
	}
	if len(rest) != 0 {
		return r, errExtraBytes
	}
	r.Names = names
	return r, nil
}

func EncodeRowsRequest(r RowsRequest) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 24))
	if err := binary.Write(buf, binary.LittleEndian, r.RowStart); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.RowCount); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.ColStart); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, r.ColCount); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRowsRequest(b []byte) (RowsRequest, error) {
	var r RowsRequest
	if len(b) < 24 {
		return r, errPayloadShort
	}
	r.RowStart = binary.LittleEndian.Uint64(b[:8])
	r.RowCount = binary.LittleEndian.Uint32(b[8:12])
	r.ColStart = binary.LittleEndian.Uint64(b[12:20])
	r.ColCount = binary.LittleEndian.Uint32(b[20:24])
	return r, nil
}

func EncodeRowsResponse(r RowsResponse) ([]byte, error) {
	if len(r.Rows) > 0xFFFF {
		return nil, errTooManyItems
	}
	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(r.Rows))); err != nil {
		return nil, err
	}
	for _, row := range r.Rows {
		if err := binary.Write(buf, binary.LittleEndian, row.Index); err != nil {
			return nil, err
		}
		if err := encodeStringList(buf, row.Cells); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DecodeRowsResponse(b []byte) (RowsResponse, error) {
	var r RowsResponse
	if len(b) < 2 {
		return r, errPayloadShort
	}
	count := binary.LittleEndian.Uint16(b[:2])
	b = b[2:]
	r.Rows = make([]RowChunk, count)
	for i := 0; i < int(count); i++ {
		if len(b) < 8 {
			return r, errPayloadShort
		}
		r.Rows[i].Index = binary.LittleEndian.Uint64(b[:8])
		var err error
		r.Rows[i].Cells, b, err = decodeStringList(b[8:])
		if err != nil {
			return r, err
		}
	}
	if len(b) != 0 {
		return r, errExtraBytes
	}
	return r, nil
}

func EncodePing(p Ping) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	if err := binary.Write(buf, binary.LittleEndian, p.Timestamp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodePing(b []byte) (Ping, error) {
	var p Ping
	if len(b) < 8 {
		return p, errPayloadShort
	}
	p.Timestamp = int64(binary.LittleEndian.Uint64(b[:8]))
	return p, nil
}

func EncodePong(p Pong) ([]byte, error) {
	return EncodePing(Ping{Timestamp: p.Timestamp})
}

func DecodePong(b []byte) (Pong, error) {
	ping, err := DecodePing(b)
	if err != nil {
		return Pong{}, err
	}
	return Pong{Timestamp: ping.Timestamp}, nil
}

func EncodeErrorFrame(e ErrorFrame) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 4+len(e.Message)))
	if err := binary.Write(buf, binary.LittleEndian, e.Code); err != nil {
		return nil, err
	}
	if err := encodeString(buf, e.Message); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeErrorFrame(b []byte) (ErrorFrame, error) {
	var e ErrorFrame
	if len(b) < 2 {
		return e, errPayloadShort
	}
	e.Code = binary.LittleEndian.Uint16(b[:2])
	msg, _, err := decodeString(b[2:])
	if err != nil {
		return e, err
	}
	e.Message = msg
	return e, nil
}
