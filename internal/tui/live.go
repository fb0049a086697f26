package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
)

const (
	graphWidth  = 70
	graphHeight = 10
	clearScreen = "\033[2J\033[H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
)

// LiveView streams a per-step time graph to the terminal while a run is in
// flight. Frames are throttled to the configured rate; OnStep is cheap
// enough to call every step.
type LiveView struct {
	out        io.Writer
	name       string
	totalSteps int
	frameRate  int
	lastFrame  time.Time

	stepMs []float64
}

func NewLiveView(out io.Writer, name string, totalSteps, frameRate int) *LiveView {
	if frameRate <= 0 {
		frameRate = 10
	}
	return &LiveView{
		out:        out,
		name:       name,
		totalSteps: totalSteps,
		frameRate:  frameRate,
		stepMs:     make([]float64, 0, totalSteps),
	}
}

// OnStep records one completed step and redraws if a frame is due.
func (v *LiveView) OnStep(step int, stepTime time.Duration) {
	v.stepMs = append(v.stepMs, float64(stepTime.Microseconds())/1e3)

	elapsed := time.Since(v.lastFrame)
	if elapsed < time.Second/time.Duration(v.frameRate) && step != v.totalSteps-1 {
		return
	}
	v.lastFrame = time.Now()
	v.render(step)
}

func (v *LiveView) render(step int) {
	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(fmt.Sprintf("  %s  step %d/%d\n\n", cyan.Render(v.name), step+1, v.totalSteps))

	data := v.stepMs
	if len(data) > graphWidth*4 {
		data = data[len(data)-graphWidth*4:]
	}
	if len(data) >= 2 {
		graph := asciigraph.Plot(data,
			asciigraph.Height(graphHeight),
			asciigraph.Width(graphWidth),
			asciigraph.Caption("step time (ms)"),
		)
		b.WriteString(graph)
		b.WriteByte('\n')
	}

	var sum float64
	for _, ms := range v.stepMs {
		sum += ms
	}
	avg := sum / float64(len(v.stepMs))
	b.WriteString(dim.Render(fmt.Sprintf("\n  avg %.3f ms/step  last %.3f ms\n",
		avg, v.stepMs[len(v.stepMs)-1])))

	fmt.Fprint(v.out, b.String())
}

func (v *LiveView) Start() { fmt.Fprint(v.out, hideCursor) }
func (v *LiveView) Stop()  { fmt.Fprint(v.out, showCursor) }
