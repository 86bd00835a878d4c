package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framegrace/turbosheet/grid"
	"github.com/framegrace/turbosheet/protocol"
)

var (
	// ErrClosed is returned by requests issued after Close, and by requests
	// in flight when the connection goes away underneath them. It wraps
	// grid.ErrSourceClosed so grid.Source callers can detect teardown
	// without importing this package.
	ErrClosed = fmt.Errorf("client: connection closed: %w", grid.ErrSourceClosed)

	// ErrHandshake is returned by Dial when the socket came up but the open
	// negotiation failed.
	ErrHandshake = errors.New("client: handshake failed")
)

// RemoteSource speaks the sheet protocol over a Unix socket and presents the
// remote sheet as a grid.Source. A single reader goroutine owns the read side
// of the connection and routes responses to waiters by header sequence, so
// any number of fetches may be outstanding at once.
type RemoteSource struct {
	conn net.Conn
	info protocol.SheetInfo

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan frame
	readErr error
	closed  bool

	done chan struct{}
}

type frame struct {
	header  protocol.Header
	payload []byte
}

// Dial connects to a sheet server and opens the named sheet. An empty name
// opens the server's default sheet. The returned source is ready for
// concurrent fetches; callers own Close.
func Dial(socketPath, sheetName string) (*RemoteSource, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	openPayload, err := protocol.EncodeOpenSheet(protocol.OpenSheet{SheetName: sheetName})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := protocol.WriteMessage(conn, protocol.Header{Version: protocol.Version, Type: protocol.MsgOpenSheet, Flags: protocol.FlagChecksum, Sequence: 1}, openPayload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	hdr, payload, err := protocol.ReadMessage(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hdr.Type == protocol.MsgError {
		errFrame, decErr := protocol.DecodeErrorFrame(payload)
		conn.Close()
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, decErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshake, remoteError(errFrame))
	}
	if hdr.Type != protocol.MsgSheetInfo {
		conn.Close()
		return nil, fmt.Errorf("%w: unexpected message %v", ErrHandshake, hdr.Type)
	}
	info, err := protocol.DecodeSheetInfo(payload)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	s := &RemoteSource{
		conn:    conn,
		info:    info,
		pending: make(map[uint64]chan frame),
		done:    make(chan struct{}),
	}
	s.seq.Store(1)
	go s.readLoop()
	return s, nil
}

// SessionID returns the session the server allocated during the open
// negotiation.
func (s *RemoteSource) SessionID() [16]byte { return s.info.SessionID }

// SheetName returns the resolved sheet name, which differs from the dialed
// name when the default sheet was requested.
func (s *RemoteSource) SheetName() string { return s.info.SheetName }

// Dimensions reports the extent negotiated at open time. It never touches
// the network.
func (s *RemoteSource) Dimensions(ctx context.Context) (grid.Dimensions, error) {
	return grid.Dimensions{TotalRows: int(s.info.TotalRows), TotalCols: int(s.info.TotalCols)}, nil
}

// FetchHeaders requests column labels for [colStart, colStart+colCount).
func (s *RemoteSource) FetchHeaders(ctx context.Context, colStart, colCount int) ([]string, error) {
	if colStart < 0 || colCount <= 0 {
		return nil, grid.ErrRange
	}
	payload, err := protocol.EncodeHeadersRequest(protocol.HeadersRequest{
		ColStart: uint64(colStart),
		ColCount: uint32(colCount),
	})
	if err != nil {
		return nil, err
	}
	hdr, body, err := s.roundTrip(ctx, protocol.MsgHeadersRequest, payload)
	if err != nil {
		return nil, err
	}
	if err := checkReply(hdr, body, protocol.MsgHeadersResponse); err != nil {
		return nil, err
	}
	resp, err := protocol.DecodeHeadersResponse(body)
	if err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// FetchRows requests up to rowCount rows starting at rowStart, each carrying
// the cells of [colStart, colStart+colCount).
func (s *RemoteSource) FetchRows(ctx context.Context, rowStart, rowCount, colStart, colCount int) ([]grid.Row, error) {
	if rowStart < 0 || rowCount <= 0 || colStart < 0 || colCount <= 0 {
		return nil, grid.ErrRange
	}
	payload, err := protocol.EncodeRowsRequest(protocol.RowsRequest{
		RowStart: uint64(rowStart),
		RowCount: uint32(rowCount),
		ColStart: uint64(colStart),
		ColCount: uint32(colCount),
	})
	if err != nil {
		return nil, err
	}
	hdr, body, err := s.roundTrip(ctx, protocol.MsgRowsRequest, payload)
	if err != nil {
		return nil, err
	}
	if err := checkReply(hdr, body, protocol.MsgRowsResponse); err != nil {
		return nil, err
	}
	resp, err := protocol.DecodeRowsResponse(body)
	if err != nil {
		return nil, err
	}
	rows := make([]grid.Row, len(resp.Rows))
	for i, chunk := range resp.Rows {
		rows[i] = grid.Row{Index: int(chunk.Index), Cells: chunk.Cells}
	}
	return rows, nil
}

// Ping measures round-trip time to the server.
func (s *RemoteSource) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	payload, err := protocol.EncodePing(protocol.Ping{Timestamp: start.UnixNano()})
	if err != nil {
		return 0, err
	}
	hdr, body, err := s.roundTrip(ctx, protocol.MsgPing, payload)
	if err != nil {
		return 0, err
	}
	if err := checkReply(hdr, body, protocol.MsgPong); err != nil {
		return 0, err
	}
	if _, err := protocol.DecodePong(body); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close shuts the connection down. Requests in flight and requests issued
// afterwards fail with ErrClosed. Close waits for the reader goroutine to
// finish, so it is safe to Close while fetches are outstanding.
func (s *RemoteSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

// roundTrip sends one request frame and waits for the reply carrying the
// same sequence. A context cancellation abandons the wait; the reply, if it
// arrives later, is dropped by the reader.
func (s *RemoteSource) roundTrip(ctx context.Context, msgType protocol.MessageType, payload []byte) (protocol.Header, []byte, error) {
	seq := s.seq.Add(1)
	ch := make(chan frame, 1)
	if err := s.register(seq, ch); err != nil {
		return protocol.Header{}, nil, err
	}

	header := protocol.Header{
		Version:   protocol.Version,
		Type:      msgType,
		Flags:     protocol.FlagChecksum,
		SessionID: s.info.SessionID,
		Sequence:  seq,
	}
	s.writeMu.Lock()
	err := protocol.WriteMessage(s.conn, header, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.unregister(seq)
		return protocol.Header{}, nil, err
	}

	select {
	case f := <-ch:
		return f.header, f.payload, nil
	case <-ctx.Done():
		s.unregister(seq)
		return protocol.Header{}, nil, ctx.Err()
	case <-s.done:
		// The reply may have been routed just before the reader exited.
		select {
		case f := <-ch:
			return f.header, f.payload, nil
		default:
		}
		return protocol.Header{}, nil, s.readError()
	}
}

func (s *RemoteSource) register(seq uint64, ch chan frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending == nil {
		return ErrClosed
	}
	s.pending[seq] = ch
	return nil
}

func (s *RemoteSource) unregister(seq uint64) {
	s.mu.Lock()
	delete(s.pending, seq)
	s.mu.Unlock()
}

func (s *RemoteSource) readError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.readErr == nil || errors.Is(s.readErr, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("client: connection lost: %w", s.readErr)
}

func (s *RemoteSource) readLoop() {
	defer close(s.done)
	for {
		hdr, payload, err := protocol.ReadMessage(s.conn)
		if err != nil {
			s.mu.Lock()
			if !s.closed && s.readErr == nil {
				s.readErr = err
			}
			s.pending = nil
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[hdr.Sequence]
		if ok {
			delete(s.pending, hdr.Sequence)
		}
		s.mu.Unlock()
		if ok {
			ch <- frame{header: hdr, payload: payload}
		}
		// Unmatched sequences belong to waiters that gave up; drop them.
	}
}

// checkReply turns an error frame into a Go error and rejects replies of the
// wrong type.
func checkReply(hdr protocol.Header, payload []byte, want protocol.MessageType) error {
	if hdr.Type == protocol.MsgError {
		errFrame, err := protocol.DecodeErrorFrame(payload)
		if err != nil {
			return err
		}
		return remoteError(errFrame)
	}
	if hdr.Type != want {
		return fmt.Errorf("unexpected message %v", hdr.Type)
	}
	return nil
}

// remoteError maps a server error frame onto the source contract. Range
// violations keep their sentinel so callers can test with errors.Is.
func remoteError(errFrame protocol.ErrorFrame) error {
	switch errFrame.Code {
	case protocol.ErrCodeRange:
		return fmt.Errorf("client: %s: %w", errFrame.Message, grid.ErrRange)
	default:
		return fmt.Errorf("client: server error %d: %s", errFrame.Code, errFrame.Message)
	}
}

// FormatUUID returns the session ID as a human readable string.
func FormatUUID(id [16]byte) string {
	var buf bytes.Buffer
	for i, b := range id {
		buf.WriteString(hex.EncodeToString([]byte{b}))
		switch i {
		case 3, 5, 7, 9:
			buf.WriteByte('-')
		}
	}
	return buf.String()
}

var _ grid.Source = (*RemoteSource)(nil)
