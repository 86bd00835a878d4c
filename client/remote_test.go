package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/framegrace/turbosheet/engine"
	"github.com/framegrace/turbosheet/grid"
	"github.com/framegrace/turbosheet/server"
)

const waitFor = 2 * time.Second

func startSheetServer(t *testing.T, rows, cols int) (*engine.Session, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "sheet.sock")
	session := engine.NewSession(rows, cols)
	srv := server.New(sock)
	srv.AddSheet("demo", session)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return session, sock
}

func TestDialAndFetch(t *testing.T) {
	_, sock := startSheetServer(t, 20, 8)

	src, err := Dial(sock, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer src.Close()

	if src.SheetName() != "demo" {
		t.Errorf("SheetName = %q, want demo", src.SheetName())
	}
	if src.SessionID() == ([16]byte{}) {
		t.Errorf("session id is zero")
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	dims, err := src.Dimensions(ctx)
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	if dims.TotalRows != 20 || dims.TotalCols != 8 {
		t.Errorf("dims = %+v, want 20x8", dims)
	}

	names, err := src.FetchHeaders(ctx, 0, 3)
	if err != nil {
		t.Fatalf("FetchHeaders: %v", err)
	}
	if len(names) != 3 || names[0] != "A" || names[2] != "C" {
		t.Errorf("names = %v, want [A B C]", names)
	}

	rows, err := src.FetchRows(ctx, 2, 3, 1, 2)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3", len(rows))
	}
	if rows[0].Index != 2 || rows[2].Index != 4 {
		t.Errorf("indexes = %d..%d, want 2..4", rows[0].Index, rows[2].Index)
	}
	if rows[0].Cells[0] != "B,2" || rows[0].Cells[1] != "C,2" {
		t.Errorf("cells = %v, want [B,2 C,2]", rows[0].Cells)
	}
}

func TestConcurrentFetchesRouteBySequence(t *testing.T) {
	_, sock := startSheetServer(t, 100, 10)

	src, err := Dial(sock, "demo")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			start := g * 10
			rows, err := src.FetchRows(ctx, start, 2, 0, 1)
			if err != nil {
				errs <- fmt.Errorf("fetch %d: %w", start, err)
				return
			}
			if len(rows) != 2 || rows[0].Index != start {
				errs <- fmt.Errorf("fetch %d: got %#v", start, rows)
				return
			}
			want := fmt.Sprintf("A,%d", start)
			if rows[0].Cells[0] != want {
				errs <- fmt.Errorf("fetch %d: cell = %q, want %q", start, rows[0].Cells[0], want)
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRangeErrorKeepsSentinel(t *testing.T) {
	_, sock := startSheetServer(t, 10, 5)

	src, err := Dial(sock, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	if _, err := src.FetchRows(ctx, 0, 2, 4, 3); !errors.Is(err, grid.ErrRange) {
		t.Errorf("FetchRows past edge: err = %v, want grid.ErrRange", err)
	}
	if _, err := src.FetchHeaders(ctx, -1, 2); !errors.Is(err, grid.ErrRange) {
		t.Errorf("FetchHeaders negative start: err = %v, want grid.ErrRange", err)
	}

	// The connection survives a rejected request.
	if _, err := src.FetchHeaders(ctx, 0, 2); err != nil {
		t.Errorf("FetchHeaders after rejection: %v", err)
	}
}

func TestDialUnknownSheet(t *testing.T) {
	_, sock := startSheetServer(t, 10, 5)

	src, err := Dial(sock, "budget")
	if err == nil {
		src.Close()
		t.Fatalf("Dial succeeded for a sheet the server does not have")
	}
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("err = %v, want ErrHandshake", err)
	}
	if !strings.Contains(err.Error(), "budget") {
		t.Errorf("err = %v, want the sheet name in the message", err)
	}
}

func TestContextAbandonsSlowFetch(t *testing.T) {
	session, sock := startSheetServer(t, 10, 5)
	session.SetLatency(200 * time.Millisecond)

	src, err := Dial(sock, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := src.FetchRows(ctx, 0, 1, 0, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("slow fetch: err = %v, want deadline exceeded", err)
	}

	// The late reply is dropped by the reader; a fresh fetch still works.
	session.SetLatency(0)
	ctx2, cancel2 := context.WithTimeout(context.Background(), waitFor)
	defer cancel2()
	rows, err := src.FetchRows(ctx2, 0, 1, 0, 1)
	if err != nil {
		t.Fatalf("fetch after abandonment: %v", err)
	}
	if len(rows) != 1 || rows[0].Cells[0] != "A,0" {
		t.Errorf("rows = %#v, want the first cell", rows)
	}
}

func TestCloseFailsInFlightFetch(t *testing.T) {
	session, sock := startSheetServer(t, 10, 5)
	session.SetLatency(2 * time.Second)

	src, err := Dial(sock, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	fetchErr := make(chan error, 1)
	go func() {
		_, err := src.FetchRows(context.Background(), 0, 1, 0, 1)
		fetchErr <- err
	}()

	time.Sleep(100 * time.Millisecond)
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-fetchErr:
		if !errors.Is(err, ErrClosed) && !errors.Is(err, net.ErrClosed) {
			t.Fatalf("in-flight fetch: err = %v, want a closed-connection error", err)
		}
	case <-time.After(waitFor):
		t.Fatalf("fetch did not return after Close")
	}

	// Requests after Close fail immediately, and the failure is visible as
	// a source teardown to callers holding only the grid contract.
	if _, err := src.FetchHeaders(context.Background(), 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("fetch after Close: err = %v, want ErrClosed", err)
	} else if !errors.Is(err, grid.ErrSourceClosed) {
		t.Errorf("fetch after Close: err = %v, want grid.ErrSourceClosed in the chain", err)
	}
}

func TestPing(t *testing.T) {
	_, sock := startSheetServer(t, 5, 5)

	src, err := Dial(sock, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	d, err := src.Ping(ctx)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if d < 0 {
		t.Errorf("round trip = %v, want non-negative", d)
	}
}

func TestFormatUUID(t *testing.T) {
	id := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	got := FormatUUID(id)
	want := "12345678-9abc-def0-1234-56789abcdef0"
	if got != want {
		t.Errorf("FormatUUID = %q, want %q", got, want)
	}
}
