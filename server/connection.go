package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/framegrace/turbosheet/grid"
	"github.com/framegrace/turbosheet/protocol"
)

// Fetch size caps. Requests beyond these answer ErrCodeBadRequest instead
// of letting a hostile count size an allocation.
const (
	maxFetchRows = 10_000
	maxFetchCols = 1_024
)

type connection struct {
	conn    net.Conn
	session *Session
	writeMu sync.Mutex
	stats   ConnStats
}

func newConnection(conn net.Conn, session *Session) *connection {
	return &connection{conn: conn, session: session}
}

// serve runs the request loop until the client disconnects or the server
// quits. Reads poll with a short deadline so quit is honored promptly.
// Requests are served inline against the session's source; responses echo
// the request's sequence number.
func (c *connection) serve(ctx context.Context, quit <-chan struct{}) error {
	c.stats.ID = c.session.ID()
	start := time.Now()
	defer func() { c.stats.Duration = time.Since(start) }()

	for {
		select {
		case <-quit:
			return nil
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		header, payload, err := protocol.ReadMessage(c.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		switch header.Type {
		case protocol.MsgRowsRequest:
			req, err := protocol.DecodeRowsRequest(payload)
			if err != nil {
				if err := c.badRequest(header.Sequence, err); err != nil {
					return err
				}
				continue
			}
			if err := c.serveRows(ctx, header.Sequence, req); err != nil {
				return err
			}
		case protocol.MsgHeadersRequest:
			req, err := protocol.DecodeHeadersRequest(payload)
			if err != nil {
				if err := c.badRequest(header.Sequence, err); err != nil {
					return err
				}
				continue
			}
			if err := c.serveHeaders(ctx, header.Sequence, req); err != nil {
				return err
			}
		case protocol.MsgPing:
			ping, err := protocol.DecodePing(payload)
			if err != nil {
				if err := c.badRequest(header.Sequence, err); err != nil {
					return err
				}
				continue
			}
			pongPayload, err := protocol.EncodePong(protocol.Pong{Timestamp: ping.Timestamp})
			if err != nil {
				return err
			}
			if err := c.reply(protocol.MsgPong, header.Sequence, pongPayload); err != nil {
				return err
			}
		default:
			// Unknown messages are ignored.
		}
	}
}

func (c *connection) serveRows(ctx context.Context, seq uint64, req protocol.RowsRequest) error {
	if req.RowCount == 0 || req.RowCount > maxFetchRows || req.ColCount == 0 || req.ColCount > maxFetchCols {
		return c.errorReply(seq, protocol.ErrCodeBadRequest, "row request size out of bounds")
	}
	rows, err := c.session.Source().FetchRows(ctx, int(req.RowStart), int(req.RowCount), int(req.ColStart), int(req.ColCount))
	if err != nil {
		code := uint16(protocol.ErrCodeInternal)
		if errors.Is(err, grid.ErrRange) {
			code = protocol.ErrCodeRange
		}
		return c.errorReply(seq, code, err.Error())
	}

	resp := protocol.RowsResponse{Rows: make([]protocol.RowChunk, len(rows))}
	for i, row := range rows {
		resp.Rows[i] = protocol.RowChunk{Index: uint64(row.Index), Cells: row.Cells}
	}
	payload, err := protocol.EncodeRowsResponse(resp)
	if err != nil {
		return c.errorReply(seq, protocol.ErrCodeInternal, err.Error())
	}
	c.stats.RowsServed += uint64(len(rows))
	return c.reply(protocol.MsgRowsResponse, seq, payload)
}

func (c *connection) serveHeaders(ctx context.Context, seq uint64, req protocol.HeadersRequest) error {
	if req.ColCount == 0 || req.ColCount > maxFetchCols {
		return c.errorReply(seq, protocol.ErrCodeBadRequest, "header request size out of bounds")
	}
	names, err := c.session.Source().FetchHeaders(ctx, int(req.ColStart), int(req.ColCount))
	if err != nil {
		code := uint16(protocol.ErrCodeInternal)
		if errors.Is(err, grid.ErrRange) {
			code = protocol.ErrCodeRange
		}
		return c.errorReply(seq, code, err.Error())
	}
	payload, err := protocol.EncodeHeadersResponse(protocol.HeadersResponse{ColStart: req.ColStart, Names: names})
	if err != nil {
		return c.errorReply(seq, protocol.ErrCodeInternal, err.Error())
	}
	c.stats.HeadersServed += uint64(len(names))
	return c.reply(protocol.MsgHeadersResponse, seq, payload)
}

func (c *connection) badRequest(seq uint64, err error) error {
	return c.errorReply(seq, protocol.ErrCodeBadRequest, err.Error())
}

func (c *connection) reply(msgType protocol.MessageType, seq uint64, payload []byte) error {
	header := protocol.Header{
		Version:   protocol.Version,
		Type:      msgType,
		Flags:     protocol.FlagChecksum,
		SessionID: c.session.ID(),
		Sequence:  seq,
	}
	return c.writeMessage(header, payload)
}

func (c *connection) errorReply(seq uint64, code uint16, msg string) error {
	c.stats.Errors++
	payload, err := protocol.EncodeErrorFrame(protocol.ErrorFrame{Code: code, Message: msg})
	if err != nil {
		return err
	}
	header := protocol.Header{
		Version:   protocol.Version,
		Type:      protocol.MsgError,
		Flags:     protocol.FlagChecksum,
		SessionID: c.session.ID(),
		Sequence:  seq,
	}
	return c.writeMessage(header, payload)
}

func (c *connection) writeMessage(header protocol.Header, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, header, payload)
}

func (c *connection) statsSnapshot() ConnStats {
	return c.stats
}
