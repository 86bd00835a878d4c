package server

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/framegrace/turbosheet/engine"
	"github.com/framegrace/turbosheet/protocol"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "sheet.sock")
	srv := New(sock)
	srv.AddSheet("demo", engine.NewSession(100, 50))
	srv.AddSheet("tiny", engine.NewSession(3, 2))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return srv, sock
}

func dialTestServer(t *testing.T, sock string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn net.Conn, msgType protocol.MessageType, session [16]byte, seq uint64, payload []byte) {
	t.Helper()
	header := protocol.Header{
		Version:   protocol.Version,
		Type:      msgType,
		Flags:     protocol.FlagChecksum,
		SessionID: session,
		Sequence:  seq,
	}
	if err := protocol.WriteMessage(conn, header, payload); err != nil {
		t.Fatalf("write %v: %v", msgType, err)
	}
}

func readFrame(t *testing.T, conn net.Conn) (protocol.Header, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header, payload, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return header, payload
}

// openSheet runs the handshake and returns the session id and sheet info.
func openSheet(t *testing.T, conn net.Conn, name string) protocol.SheetInfo {
	t.Helper()
	payload, err := protocol.EncodeOpenSheet(protocol.OpenSheet{SheetName: name})
	if err != nil {
		t.Fatalf("encode open: %v", err)
	}
	writeFrame(t, conn, protocol.MsgOpenSheet, [16]byte{}, 1, payload)

	header, payload := readFrame(t, conn)
	if header.Type != protocol.MsgSheetInfo {
		t.Fatalf("expected sheet info, got %v", header.Type)
	}
	info, err := protocol.DecodeSheetInfo(payload)
	if err != nil {
		t.Fatalf("decode sheet info: %v", err)
	}
	return info
}

func TestOpenAndFetchOverSocket(t *testing.T) {
	srv, sock := startTestServer(t)
	conn := dialTestServer(t, sock)

	info := openSheet(t, conn, "")
	if info.SheetName != "demo" {
		t.Fatalf("SheetName = %q, want demo (default)", info.SheetName)
	}
	if info.TotalRows != 100 || info.TotalCols != 50 {
		t.Fatalf("extent = %dx%d, want 100x50", info.TotalRows, info.TotalCols)
	}
	if info.SessionID == ([16]byte{}) {
		t.Fatalf("session id is zero")
	}
	if got := srv.Manager().ActiveSessions(); got != 1 {
		t.Fatalf("ActiveSessions = %d, want 1", got)
	}

	reqPayload, err := protocol.EncodeRowsRequest(protocol.RowsRequest{RowStart: 0, RowCount: 4, ColStart: 0, ColCount: 3})
	if err != nil {
		t.Fatalf("encode rows request: %v", err)
	}
	writeFrame(t, conn, protocol.MsgRowsRequest, info.SessionID, 2, reqPayload)

	header, payload := readFrame(t, conn)
	if header.Type != protocol.MsgRowsResponse {
		t.Fatalf("expected rows response, got %v", header.Type)
	}
	if header.Sequence != 2 {
		t.Fatalf("Sequence = %d, want the request's 2", header.Sequence)
	}
	rows, err := protocol.DecodeRowsResponse(payload)
	if err != nil {
		t.Fatalf("decode rows response: %v", err)
	}
	if len(rows.Rows) != 4 {
		t.Fatalf("row count = %d, want 4", len(rows.Rows))
	}
	if rows.Rows[0].Cells[0] != "A,0" || rows.Rows[3].Cells[2] != "C,3" {
		t.Fatalf("unexpected cells: %#v", rows.Rows)
	}

	hdrPayload, err := protocol.EncodeHeadersRequest(protocol.HeadersRequest{ColStart: 26, ColCount: 2})
	if err != nil {
		t.Fatalf("encode headers request: %v", err)
	}
	writeFrame(t, conn, protocol.MsgHeadersRequest, info.SessionID, 3, hdrPayload)

	header, payload = readFrame(t, conn)
	if header.Type != protocol.MsgHeadersResponse || header.Sequence != 3 {
		t.Fatalf("expected headers response seq 3, got %v seq %d", header.Type, header.Sequence)
	}
	names, err := protocol.DecodeHeadersResponse(payload)
	if err != nil {
		t.Fatalf("decode headers response: %v", err)
	}
	if len(names.Names) != 2 || names.Names[0] != "AA" || names.Names[1] != "AB" {
		t.Fatalf("Names = %v, want [AA AB]", names.Names)
	}

	pingPayload, err := protocol.EncodePing(protocol.Ping{Timestamp: 12345})
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	writeFrame(t, conn, protocol.MsgPing, info.SessionID, 4, pingPayload)

	header, payload = readFrame(t, conn)
	if header.Type != protocol.MsgPong || header.Sequence != 4 {
		t.Fatalf("expected pong seq 4, got %v seq %d", header.Type, header.Sequence)
	}
	pong, err := protocol.DecodePong(payload)
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.Timestamp != 12345 {
		t.Fatalf("Timestamp = %d, want 12345", pong.Timestamp)
	}
}

func TestOpenNamedAndUnknownSheet(t *testing.T) {
	_, sock := startTestServer(t)

	conn := dialTestServer(t, sock)
	info := openSheet(t, conn, "tiny")
	if info.SheetName != "tiny" || info.TotalRows != 3 {
		t.Fatalf("info = %+v, want the tiny sheet", info)
	}

	conn2 := dialTestServer(t, sock)
	payload, err := protocol.EncodeOpenSheet(protocol.OpenSheet{SheetName: "budget"})
	if err != nil {
		t.Fatalf("encode open: %v", err)
	}
	writeFrame(t, conn2, protocol.MsgOpenSheet, [16]byte{}, 1, payload)

	header, payload := readFrame(t, conn2)
	if header.Type != protocol.MsgError {
		t.Fatalf("expected error frame, got %v", header.Type)
	}
	frame, err := protocol.DecodeErrorFrame(payload)
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if frame.Code != protocol.ErrCodeUnknownSheet {
		t.Fatalf("Code = %d, want ErrCodeUnknownSheet", frame.Code)
	}
}

func TestRangeErrorKeepsConnectionAlive(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dialTestServer(t, sock)
	info := openSheet(t, conn, "demo")

	// Columns past the sheet's edge.
	reqPayload, err := protocol.EncodeRowsRequest(protocol.RowsRequest{RowStart: 0, RowCount: 2, ColStart: 49, ColCount: 3})
	if err != nil {
		t.Fatalf("encode rows request: %v", err)
	}
	writeFrame(t, conn, protocol.MsgRowsRequest, info.SessionID, 2, reqPayload)

	header, payload := readFrame(t, conn)
	if header.Type != protocol.MsgError || header.Sequence != 2 {
		t.Fatalf("expected error frame seq 2, got %v seq %d", header.Type, header.Sequence)
	}
	frame, err := protocol.DecodeErrorFrame(payload)
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if frame.Code != protocol.ErrCodeRange {
		t.Fatalf("Code = %d, want ErrCodeRange", frame.Code)
	}

	// The connection still serves valid requests afterwards.
	reqPayload, err = protocol.EncodeRowsRequest(protocol.RowsRequest{RowStart: 0, RowCount: 1, ColStart: 0, ColCount: 1})
	if err != nil {
		t.Fatalf("encode rows request: %v", err)
	}
	writeFrame(t, conn, protocol.MsgRowsRequest, info.SessionID, 3, reqPayload)

	header, _ = readFrame(t, conn)
	if header.Type != protocol.MsgRowsResponse || header.Sequence != 3 {
		t.Fatalf("expected rows response seq 3, got %v seq %d", header.Type, header.Sequence)
	}
}

func TestOversizeRequestRejected(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dialTestServer(t, sock)
	info := openSheet(t, conn, "demo")

	reqPayload, err := protocol.EncodeRowsRequest(protocol.RowsRequest{RowStart: 0, RowCount: maxFetchRows + 1, ColStart: 0, ColCount: 1})
	if err != nil {
		t.Fatalf("encode rows request: %v", err)
	}
	writeFrame(t, conn, protocol.MsgRowsRequest, info.SessionID, 2, reqPayload)

	header, payload := readFrame(t, conn)
	if header.Type != protocol.MsgError {
		t.Fatalf("expected error frame, got %v", header.Type)
	}
	frame, err := protocol.DecodeErrorFrame(payload)
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if frame.Code != protocol.ErrCodeBadRequest {
		t.Fatalf("Code = %d, want ErrCodeBadRequest", frame.Code)
	}
}

func TestHandshakeRejectsNonOpen(t *testing.T) {
	srv := New("unused")
	srv.AddSheet("demo", engine.NewSession(3, 3))

	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := handleOpen(context.Background(), serverConn, srv)
		errCh <- err
	}()

	payload, err := protocol.EncodePing(protocol.Ping{Timestamp: 1})
	if err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	header := protocol.Header{Version: protocol.Version, Type: protocol.MsgPing, Flags: protocol.FlagChecksum}
	if err := protocol.WriteMessage(client, header, payload); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	select {
	case err := <-errCh:
		if err != errUnexpectedMessage {
			t.Fatalf("handshake err = %v, want errUnexpectedMessage", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handshake did not return")
	}
}

func TestSecondStartRejected(t *testing.T) {
	srv, _ := startTestServer(t)
	if err := srv.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start: err = %v, want ErrAlreadyRunning", err)
	}
	if got := strings.Join(srv.Sheets(), ","); got != "demo,tiny" {
		t.Fatalf("Sheets = %q, want demo,tiny (sorted)", got)
	}
}

func TestStopUnblocksIdleConnection(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "sheet.sock")
	srv := New(sock)
	srv.AddSheet("demo", engine.NewSession(10, 10))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := dialTestServer(t, sock)
	openSheet(t, conn, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop with an idle connection: %v", err)
	}
}
