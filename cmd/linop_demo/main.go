// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// linop_demo runs the example linear operations (Sum, ScaledProduct and FFT) directly, vectorized and
// differentiated, checks their results and reports the timings.
//
// With -sweep it compares the FFT batched natively against the FFT executed in a loop over the batch,
// for each number of workers given in -workers.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/linop/pkg/linop"
	"github.com/gomlx/linop/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagDemo    = flag.String("demo", "all", "Demo to run: sum, product, fft or all.")
	flagSize    = flag.Int("size", 64, "Dimension of the non-batch axes of the operands.")
	flagBatch   = flag.Int("batch", 8, "Batch size used when vectorizing the operations.")
	flagRepeats = flag.Int("repeats", 3, "Number of timed executions of each graph. The mean time is reported.")
	flagSeed    = flag.Int64("seed", 42, "Seed used to generate the random operands.")
	flagSweep   = flag.Bool("sweep", false, "Sweep the vectorized FFT over the values of -workers, "+
		"comparing native batching against the loop over the batch.")
	flagColor   = flag.Bool("color", true, "Colorize the output, if the terminal supports it.")
	flagWorkers = xslices.Flag("workers", []int{1, 2, 4},
		"Comma-separated list of the number of workers used by the FFT. Outside of -sweep only the first is used.",
		strconv.Atoi)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	output := termenv.NewOutput(os.Stdout)
	if *flagColor {
		lipgloss.SetColorProfile(output.ColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if len(*flagWorkers) == 0 {
		klog.Errorf("-workers must have at least one value. See 'linop_demo -help'.")
		os.Exit(1)
	}
	if *flagSize < 1 || *flagBatch < 1 {
		klog.Errorf("-size and -batch must be positive, got %d and %d", *flagSize, *flagBatch)
		os.Exit(1)
	}

	registry := linop.NewRegistry()
	o := must.M1(newOps(registry))
	klog.V(1).Infof("registered operations: %v", registry.Tokens())
	cfg := config{
		Size:    *flagSize,
		Batch:   *flagBatch,
		Repeats: *flagRepeats,
		Workers: (*flagWorkers)[0],
		Seed:    *flagSeed,
	}

	results, err := runDemos(o, *flagDemo, cfg)
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	fmt.Println(titleStyle.Render("Linear operations"))
	fmt.Println(report(results))

	if *flagSweep {
		points := must.M1(sweepWorkers(o, cfg, *flagWorkers, os.Stdout))
		fmt.Println(titleStyle.Render(fmt.Sprintf("FFT of %d x (%d x %d) matrices", cfg.Batch, cfg.Size, cfg.Size)))
		fmt.Println(sweepReport(points))
	}

	for _, r := range results {
		if r.failed() {
			klog.Errorf("%s (%s) failed its check: max error %g", r.Op, r.Mode, r.MaxErr)
			os.Exit(1)
		}
	}
}

// report renders the results of the demos as a table: failed results are shown in red.
func report(results []result) string {
	table := newResultsTable([]string{"Operation", "Mode", "Shape", "Memory", "Time", "Max Error"},
		lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	for _, r := range results {
		table.Row(r.failed(),
			r.Op,
			r.Mode,
			r.Shape.String(),
			humanize.Bytes(uint64(r.Shape.Memory())),
			r.Elapsed.Round(time.Microsecond).String(),
			fmt.Sprintf("%.2g", r.MaxErr))
	}
	return table.String()
}
