// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/sheet-server/main.go
// Summary: Implements main capabilities for the sheet server CLI harness.
// Usage: Executed by operators to start the production server that serves sheets.
// Notes: Focuses on wiring flags and lifecycle around the server runtime.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/framegrace/turbosheet/config"
	"github.com/framegrace/turbosheet/engine"
	"github.com/framegrace/turbosheet/server"
	"github.com/framegrace/turbosheet/xlsxgrid"
)

// workbookSpec names a workbook file and optionally one worksheet in it.
type workbookSpec struct {
	path  string
	sheet string
}

type workbookList []workbookSpec

func (l *workbookList) String() string {
	parts := make([]string, len(*l))
	for i, wb := range *l {
		if wb.sheet == "" {
			parts[i] = wb.path
			continue
		}
		parts[i] = wb.path + ":" + wb.sheet
	}
	return strings.Join(parts, ",")
}

func (l *workbookList) Set(value string) error {
	path, sheetName := value, ""
	if i := strings.LastIndex(value, ":"); i > 0 {
		path, sheetName = value[:i], value[i+1:]
	}
	if path == "" {
		return fmt.Errorf("empty workbook path")
	}
	*l = append(*l, workbookSpec{path: path, sheet: sheetName})
	return nil
}

func main() {
	cfg := config.System()
	if err := config.Err(); err != nil {
		log.Printf("Config: %v", err)
	}

	socketPath := flag.String("socket", cfg.GetString("server", "socket", "/tmp/turbosheet.sock"), "Unix socket path")
	demoRows := flag.Int("rows", cfg.GetInt("server", "demo_rows", engine.DemoRows), "Row count of the built-in demo sheet")
	demoCols := flag.Int("cols", cfg.GetInt("server", "demo_cols", engine.DemoCols), "Column count of the built-in demo sheet")
	latency := flag.Duration("latency", 0, "Artificial fetch latency for the demo sheet")
	verboseLogs := flag.Bool("verbose-logs", false, "Log per-connection statistics")
	cpuProfile := flag.String("pprof-cpu", "", "Write CPU profile to file")
	memProfile := flag.String("pprof-mem", "", "Write heap profile to file on exit")
	var workbooks workbookList
	flag.Var(&workbooks, "xlsx", "Workbook to serve as path[:sheet] (repeatable)")
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create CPU profile: %v\n", err)
			os.Exit(1)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	srv := server.New(*socketPath)

	demo := engine.NewSession(*demoRows, *demoCols)
	if *latency > 0 {
		demo.SetLatency(*latency)
	}
	srv.AddSheet("demo", demo)

	for _, wb := range workbooks {
		sheet, err := xlsxgrid.Open(wb.path, wb.sheet)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open workbook: %v\n", err)
			os.Exit(1)
		}
		srv.AddSheet(sheet.Name(), sheet)
		log.Printf("server: serving %s sheet %q", wb.path, sheet.Name())
	}

	if *verboseLogs {
		srv.SetStatsObserver(server.NewStatsLogger(log.Default()))
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Turbo Sheet server listening on %s\n", *socketPath)
	fmt.Printf("Sheets: %s\n", strings.Join(srv.Sheets(), ", "))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			log.Println("Received SIGHUP, reloading configuration...")
			if err := config.Reload(); err != nil {
				log.Printf("Failed to reload config: %v", err)
			} else {
				log.Println("Configuration reloaded successfully.")
			}
			continue
		}
		// SIGINT or SIGTERM -> Exit
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create heap profile: %v\n", err)
		} else {
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write heap profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	fmt.Println("Server stopped")
}
