package server

import (
	"time"

	"github.com/framegrace/turbosheet/grid"
)

// Session binds one client connection to the sheet it opened.
type Session struct {
	id      [16]byte
	name    string
	src     grid.Source
	started time.Time
}

func (s *Session) ID() [16]byte {
	return s.id
}

func (s *Session) SheetName() string {
	return s.name
}

func (s *Session) Source() grid.Source {
	return s.src
}

func (s *Session) Started() time.Time {
	return s.started
}
