// Package tui renders benchmark output for the terminal: a styled timing
// report per run and a live per-step view while a run is in flight.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/nbgpu/internal/bench"
	"github.com/san-kum/nbgpu/internal/timing"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// Report renders one benchmark result as a human-readable block.
func Report(res *bench.Result) string {
	var b strings.Builder

	b.WriteString(cyan.Render(res.Name))
	b.WriteString(dim.Render(fmt.Sprintf("  (%s)", res.Device)))
	b.WriteByte('\n')

	kernel := "tabulated Ewald"
	if res.EwaldAnalytical {
		kernel = "analytical Ewald"
	}
	b.WriteString(fmt.Sprintf("  %s atoms, %s steps in %s  %s\n",
		white.Render(fmt.Sprint(res.Atoms)),
		white.Render(fmt.Sprint(res.Steps)),
		green.Render(res.Wall.Round(time.Millisecond).String()),
		dim.Render(kernel)))
	b.WriteString(fmt.Sprintf("  E_lj %s  E_el %s  min balanced lists %s\n",
		white.Render(fmt.Sprintf("%.3f", res.EnergyLJ)),
		white.Render(fmt.Sprintf("%.3f", res.EnergyEl)),
		white.Render(fmt.Sprint(res.MinCIBalanced))))

	if !res.TimingsOK {
		b.WriteString(dim.Render("  device timings unavailable for this run\n"))
		return b.String()
	}
	b.WriteString(timingTable(res.Timings))
	return b.String()
}

func timingTable(snap timing.Snapshot) string {
	var b strings.Builder
	b.WriteString(dim.Render(fmt.Sprintf("  %-18s %8s %12s %10s\n", "category", "count", "total", "avg")))

	row := func(name string, count int, total time.Duration) {
		if count == 0 {
			return
		}
		avg := total / time.Duration(count)
		b.WriteString(fmt.Sprintf("  %-18s %8d %12s %10s\n",
			name, count,
			total.Round(time.Microsecond),
			avg.Round(time.Microsecond)))
	}

	row("nb h2d", snap.NbCount, snap.NbH2D)
	row("nb d2h", snap.NbCount, snap.NbD2H)
	row("pairlist h2d", snap.PairlistCount, snap.PairlistH2D)

	names := [2][2]string{
		{"kernel F", "kernel F prune"},
		{"kernel VF", "kernel VF prune"},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			k := snap.Kernel[i][j]
			row(names[i][j], k.C, k.T)
		}
	}
	return b.String()
}

// Summary renders a compact one-line-per-run table for ensembles.
func Summary(results []*bench.Result) string {
	var b strings.Builder
	b.WriteString(dim.Render(fmt.Sprintf("%-16s %-10s %8s %8s %10s %12s\n",
		"preset", "device", "atoms", "steps", "wall", "steps/sec")))
	for _, res := range results {
		rate := float64(res.Steps) / res.Wall.Seconds()
		b.WriteString(fmt.Sprintf("%-16s %-10s %8d %8d %10s %s\n",
			cyan.Render(res.Name), res.Device, res.Atoms, res.Steps,
			res.Wall.Round(time.Millisecond),
			yellow.Render(fmt.Sprintf("%12.1f", rate))))
	}
	return b.String()
}
