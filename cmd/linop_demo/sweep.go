// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// sweepPoint is the timing of the vectorized FFT for one number of workers.
type sweepPoint struct {
	Workers      int
	Loop, Native time.Duration
	MaxErr       float64
}

// Speedup of the native batching over the loop.
func (p sweepPoint) Speedup() float64 {
	if p.Native <= 0 {
		return 0
	}
	return float64(p.Loop) / float64(p.Native)
}

// sweepWorkers times the loop and native batched FFT for each number of workers, displaying a progress bar on w.
func sweepWorkers(o ops, cfg config, workers []int, w io.Writer) ([]sweepPoint, error) {
	bar := progressbar.NewOptions(len(workers),
		progressbar.OptionSetDescription("FFT sweep"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish())
	points := make([]sweepPoint, 0, len(workers))
	for _, numWorkers := range workers {
		if numWorkers < 1 {
			return nil, errors.Errorf("invalid number of workers %d in sweep", numWorkers)
		}
		cfg.Workers = numWorkers
		results, err := runFFT(o.FFT, o.BatchedFFT, cfg)
		if err != nil {
			return nil, errors.WithMessagef(err, "sweep with %d workers", numWorkers)
		}
		points = append(points, sweepPoint{
			Workers: numWorkers,
			Loop:    results[0].Elapsed,
			Native:  results[1].Elapsed,
			MaxErr:  max(results[0].MaxErr, results[1].MaxErr),
		})
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return points, nil
}

// sweepReport renders the sweep results as a table.
func sweepReport(points []sweepPoint) string {
	table := newResultsTable([]string{"Workers", "Loop", "Native", "Speedup", "Max Error"},
		lipgloss.Right)
	for _, p := range points {
		table.Row(p.MaxErr > maxAllowedError,
			humanize.Comma(int64(p.Workers)),
			p.Loop.Round(time.Microsecond).String(),
			p.Native.Round(time.Microsecond).String(),
			fmt.Sprintf("%.2fx", p.Speedup()),
			fmt.Sprintf("%.2g", p.MaxErr))
	}
	return table.String()
}
