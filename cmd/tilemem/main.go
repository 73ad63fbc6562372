// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// tilemem exercises an allocator: it runs the buffer round-trip scenarios (map, write back, discard, clone,
// concurrent maps and the constants cache) and prints a report.
//
// Usage:
//
//	tilemem -allocator="wasm:pages=16,workers=4" -size=4MiB
//
// If -allocator is not given, the TILEMEM_ALLOCATOR environment variable is used, and then the default allocator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"github.com/vmbbc/plaidml/buffers"
	_ "github.com/vmbbc/plaidml/buffers/default"
	"github.com/vmbbc/plaidml/pkg/support/fsutil"
	"github.com/vmbbc/plaidml/pkg/support/xslices"
	"k8s.io/klog/v2"
)

var (
	flagAllocator = flag.String("allocator", "",
		fmt.Sprintf("Allocator configuration, formatted as \"<name>:<options>\". "+
			"If empty, $%s or the default allocator is used.", buffers.TILEMEM_ALLOCATOR))
	flagSize       = flag.String("size", "1MiB", "Size of the buffers used in the scenarios, e.g. \"64KiB\".")
	flagIterations = flag.Int("iterations", 4, "Number of write/read iterations of the round-trip scenario.")
	flagParallel   = flag.Int("parallel", 8, "Number of buffers mapped at once in the concurrent-maps scenario.")
	flagCache      = flag.String("cache", "", "If set, the constants cache is saved to and loaded from this file.")
	flagTimeout    = flag.Duration("timeout", time.Minute, "Timeout for all scenarios.")
	flagList       = flag.Bool("list", false, "List the registered allocators and exit.")
	flagProgress   = flag.Bool("progress", false, "Display a progress bar while the scenarios run.")
	flagRun        = xslices.Flag("run", nil,
		fmt.Sprintf("Comma-separated scenarios to run, by default all of %q.", scenarioNames()),
		func(name string) (string, error) { return name, nil })
)

// closer is implemented by allocators that own resources, like the "wasm" device.
type closer interface {
	Close(ctx context.Context) error
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagList {
		fmt.Println(strings.Join(buffers.Registered(), "\n"))
		return
	}
	size, err := humanize.ParseBytes(*flagSize)
	if err != nil {
		klog.Errorf("Invalid -size=%q: %v", *flagSize, err)
		os.Exit(1)
	}
	if *flagIterations < 1 || *flagParallel < 0 {
		klog.Errorf("-iterations must be positive and -parallel not negative. See 'tilemem -help'.")
		os.Exit(1)
	}

	selected, err := selectScenarios(*flagRun)
	if err != nil {
		klog.Errorf("Invalid -run: %v", err)
		os.Exit(1)
	}
	cachePath, err := fsutil.ReplaceTildeInPath(*flagCache)
	if err != nil {
		klog.Errorf("Invalid -cache: %v", err)
		os.Exit(1)
	}

	var alloc buffers.Allocator
	if *flagAllocator != "" {
		alloc = must.M1(buffers.NewAllocatorWithConfig(*flagAllocator))
	} else {
		alloc = must.M1(buffers.NewAllocator())
	}
	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()
	var onDone func(r result)
	if *flagProgress {
		bar := progressbar.NewOptions(len(selected),
			progressbar.OptionSetDescription("scenarios"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish())
		onDone = func(r result) {
			bar.Describe(r.Name)
			_ = bar.Add(1)
		}
	}
	results := runScenarios(ctx, alloc, selected, options{
		Size:       size,
		Iterations: *flagIterations,
		Parallel:   *flagParallel,
		CachePath:  cachePath,
	}, onDone)
	if c, ok := alloc.(closer); ok {
		must.M(c.Close(context.Background()))
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Allocator %T", alloc)))
	fmt.Println(report(results))
	if leaked := buffers.LiveShared(); len(leaked) > 0 {
		klog.Warningf("%d shared buffers still referenced", len(leaked))
	}
	for _, r := range results {
		if r.Failed() {
			os.Exit(1)
		}
	}
}

// report renders the results table.
func report(results []result) string {
	table := newReportTable([]string{"Scenario", "Result", "Time", "Bytes", "Throughput", "Notes"}, 1,
		lipgloss.Left, lipgloss.Center, lipgloss.Right, lipgloss.Right, lipgloss.Right)
	for _, r := range results {
		st := statusOf(r)
		notes := r.Notes
		if st == statusFailed {
			notes = r.Err.Error()
		}
		throughput := "-"
		if st == statusPassed && r.Bytes > 0 && r.Elapsed > 0 {
			throughput = humanize.IBytes(uint64(float64(r.Bytes)/r.Elapsed.Seconds())) + "/s"
		}
		table.Row(st, r.Name, st.String(), r.Elapsed.Round(time.Microsecond).String(),
			humanize.IBytes(r.Bytes), throughput, notes)
	}
	return table.Render()
}
