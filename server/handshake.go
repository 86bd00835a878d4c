package server

import (
	"context"
	"errors"
	"io"

	"github.com/framegrace/turbosheet/protocol"
)

var (
	errUnexpectedMessage = errors.New("server: unexpected message type")
)

// handleOpen performs the open negotiation. The first frame must be an
// OpenSheet; the reply is either SheetInfo carrying a fresh session id or
// an ErrorFrame naming the failure.
func handleOpen(ctx context.Context, rw io.ReadWriter, srv *Server) (*Session, error) {
	hdr, payload, err := protocol.ReadMessage(rw)
	if err != nil {
		return nil, err
	}
	if hdr.Type != protocol.MsgOpenSheet {
		return nil, errUnexpectedMessage
	}
	open, err := protocol.DecodeOpenSheet(payload)
	if err != nil {
		return nil, err
	}

	src, name, err := srv.lookupSheet(open.SheetName)
	if err != nil {
		_ = writeErrorFrame(rw, [16]byte{}, hdr.Sequence, protocol.ErrCodeUnknownSheet, "no sheet named "+open.SheetName)
		return nil, err
	}

	dims, err := src.Dimensions(ctx)
	if err != nil {
		_ = writeErrorFrame(rw, [16]byte{}, hdr.Sequence, protocol.ErrCodeInternal, "read dimensions: "+err.Error())
		return nil, err
	}

	session, err := srv.manager.NewSession(name, src)
	if err != nil {
		return nil, err
	}

	infoPayload, err := protocol.EncodeSheetInfo(protocol.SheetInfo{
		SessionID: session.ID(),
		SheetName: name,
		TotalRows: uint64(dims.TotalRows),
		TotalCols: uint64(dims.TotalCols),
	})
	if err != nil {
		srv.manager.Close(session.ID())
		return nil, err
	}
	infoHeader := protocol.Header{
		Version:   protocol.Version,
		Type:      protocol.MsgSheetInfo,
		Flags:     protocol.FlagChecksum,
		SessionID: session.ID(),
		Sequence:  hdr.Sequence,
	}
	if err := protocol.WriteMessage(rw, infoHeader, infoPayload); err != nil {
		srv.manager.Close(session.ID())
		return nil, err
	}
	return session, nil
}

// writeErrorFrame answers a frame before a session exists; once the
// connection is serving, error replies go through the write mutex instead.
func writeErrorFrame(w io.Writer, session [16]byte, seq uint64, code uint16, msg string) error {
	payload, err := protocol.EncodeErrorFrame(protocol.ErrorFrame{Code: code, Message: msg})
	if err != nil {
		return err
	}
	hdr := protocol.Header{
		Version:   protocol.Version,
		Type:      protocol.MsgError,
		Flags:     protocol.FlagChecksum,
		SessionID: session,
		Sequence:  seq,
	}
	return protocol.WriteMessage(w, hdr, payload)
}
