package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framegrace/turbosheet/client"
	"github.com/framegrace/turbosheet/config"
	"github.com/framegrace/turbosheet/engine"
	"github.com/framegrace/turbosheet/grid"
	"github.com/framegrace/turbosheet/viewstate"
)

func main() {
	appCfg := config.App("sheet-stress")

	socketPath := flag.String("socket", "", "Unix socket of a running sheet server (empty runs an in-process demo)")
	sheetName := flag.String("sheet", "", "Sheet to open (empty opens the server default)")
	rows := flag.Int("rows", 1000000, "Row count for the in-process demo")
	cols := flag.Int("cols", 1000, "Column count for the in-process demo")
	events := flag.Int("events", appCfg.GetInt("stress", "events", 500), "Navigation events to fire")
	viewportRows := flag.Int("viewport", appCfg.GetInt("stress", "viewport_rows", 40), "Visible rows per scroll event")
	seed := flag.Int64("seed", int64(appCfg.GetInt("stress", "seed", 0)), "Random seed (0 derives one from the clock)")
	page := flag.Int("page", grid.DefaultRowsPerPage, "Rows per fetch page")
	width := flag.Int("width", grid.DefaultWidth, "Column window width")
	duration := flag.Duration("duration", 30*time.Second, "Maximum run time")
	statePath := flag.String("state", defaultStatePath(), "View-state database path (empty disables position persistence)")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var src grid.Source
	stateKey := *sheetName
	if *socketPath == "" {
		src = engine.NewSession(*rows, *cols)
		if stateKey == "" {
			stateKey = "demo"
		}
		fmt.Printf("stress: in-process demo grid %dx%d\n", *rows, *cols)
	} else {
		remote, err := client.Dial(*socketPath, *sheetName)
		if err != nil {
			log.Fatalf("dial server: %v", err)
		}
		defer remote.Close()
		src = remote
		stateKey = remote.SheetName()
		fmt.Printf("stress: session %s on sheet %q\n", client.FormatUUID(remote.SessionID()), remote.SheetName())
	}

	var store *viewstate.SQLiteStore
	if *statePath != "" {
		storeCfg := viewstate.DefaultStoreConfig(*statePath)
		storeCfg.FlushInterval = config.System().GetDuration("viewstate", "flush_interval", storeCfg.FlushInterval)
		var err error
		store, err = viewstate.OpenWithConfig(storeCfg)
		if err != nil {
			log.Fatalf("open view state: %v", err)
		}
		defer store.Close()
	}

	vp := grid.NewViewport(grid.Config{
		Source:      src,
		RowsPerPage: *page,
		Width:       *width,
		OnError: func(err error) {
			log.Printf("stress: %v", err)
		},
	})
	if err := vp.Start(ctx); err != nil {
		log.Fatalf("viewport start: %v", err)
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelStop()
		_ = vp.Stop(stopCtx)
	}()

	dims := vp.Dimensions()
	offset := 0
	if store != nil {
		if pos, found, err := store.Load(stateKey); err != nil {
			log.Printf("stress: load position: %v", err)
		} else if found {
			vp.JumpTo(pos.ColStart)
			offset = clampOffset(pos.RowOffset, dims.TotalRows, *viewportRows)
			fmt.Printf("stress: restored position row %d col %d\n", pos.RowOffset, pos.ColStart)
		}
	}
	vp.RowsVisible(offset, offset+*viewportRows-1)

	fired := 0
	for fired < *events && ctx.Err() == nil {
		switch r := rng.Intn(100); {
		case r < 40: // nearby scroll, the common case
			offset = clampOffset(offset+rng.Intn(2**viewportRows+1)-*viewportRows, dims.TotalRows, *viewportRows)
			vp.RowsVisible(offset, offset+*viewportRows-1)
		case r < 60: // long-distance row jump
			if dims.TotalRows > 0 {
				offset = clampOffset(rng.Intn(dims.TotalRows), dims.TotalRows, *viewportRows)
				vp.RowsVisible(offset, offset+*viewportRows-1)
			}
		case r < 80: // column shift
			vp.Shift(rng.Intn(2**width+1) - *width)
		case r < 95: // column jump
			if dims.TotalCols > 0 {
				vp.JumpTo(rng.Intn(dims.TotalCols))
			}
		default:
			vp.RefreshHeaders()
		}
		fired++
		if fired%64 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	// Let the tail of in-flight fetches land before reading the counters.
	time.Sleep(200 * time.Millisecond)

	start, w := vp.Window()
	if store != nil {
		pos := viewstate.Position{Sheet: stateKey, RowOffset: offset, ColStart: start, Width: w}
		if err := store.Save(pos); err != nil {
			log.Printf("stress: save position: %v", err)
		} else if err := store.Flush(); err != nil {
			log.Printf("stress: flush position: %v", err)
		}
	}

	stats := vp.Stats()
	fmt.Printf("events=%d window=(%d,%d) offset=%d\n", fired, start, w, offset)
	fmt.Printf("rows: fetches=%d installs=%d stale=%d errors=%d\n", stats.RowFetches, stats.RowInstalls, stats.RowStaleDrops, stats.RowErrors)
	fmt.Printf("headers: fetches=%d applies=%d stale=%d errors=%d\n", stats.HeaderFetches, stats.HeaderApplies, stats.HeaderStaleDrops, stats.HeaderErrors)
	fmt.Println("stress run complete")
}

// defaultStatePath resolves the configured view-state database, honoring the
// viewstate.enabled switch. Resolution failures just disable persistence.
func defaultStatePath() string {
	cfg := config.System()
	if !cfg.GetBool("viewstate", "enabled", true) {
		return ""
	}
	if p := cfg.GetString("viewstate", "db_path", ""); p != "" {
		return p
	}
	p, err := config.ViewStateDBPath()
	if err != nil {
		return ""
	}
	return p
}

func clampOffset(offset, totalRows, viewportRows int) int {
	max := totalRows - viewportRows
	if max < 0 {
		max = 0
	}
	if offset > max {
		offset = max
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}
