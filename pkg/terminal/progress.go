package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/benchtrail/pkg/orchestrator"
	"github.com/Sumatoshi-tech/benchtrail/pkg/revision"
)

// Progress bar characters.
const (
	ProgressFilled = "█"
	ProgressEmpty  = "░"
)

const progressBarWidth = 10

// DrawProgressBar draws value in [0, 1] as a bar of width cells.
func DrawProgressBar(value float64, width int) string {
	value = min(max(value, 0), 1)
	filled := int(value * float64(width))

	return strings.Repeat(ProgressFilled, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// Status labels of progress lines.
const (
	LabelPass = "PASS"
	LabelFail = "FAIL"
	LabelSkip = "SKIP"
	LabelMiss = "MISS"
	LabelWarn = "WARN"
	LabelErr  = "ERR "
)

// Progress prints one line per revision and per benchmark. It implements
// orchestrator.Reporter and is safe for concurrent use.
type Progress struct {
	cfg Config
	w   io.Writer
	// Tagged prefixes benchmark lines with the short revision id, for runs
	// whose revisions interleave.
	Tagged bool
	// Transitions also prints revision state changes.
	Transitions bool

	mu sync.Mutex
}

// NewProgress returns a Progress writing to w.
func NewProgress(w io.Writer, cfg Config) *Progress {
	return &Progress{cfg: cfg, w: w}
}

// Transition implements orchestrator.Reporter.
func (p *Progress) Transition(rev revision.Revision, _, to orchestrator.State) {
	if !p.Transitions {
		return
	}

	p.line(rev, p.cfg.Colorize(fmt.Sprintf("  · %s", to), ColorGray))
}

// Event implements orchestrator.Reporter.
func (p *Progress) Event(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventUnknownBenchmark:
		p.println(p.label(LabelWarn, ColorYellow) + fmt.Sprintf(" unknown benchmark %q skipped", ev.Benchmark))
	case orchestrator.EventRevisionStarted:
		p.println(p.revisionHeader(ev))
	case orchestrator.EventRevisionSkipped:
		p.line(ev.Revision, "  "+p.cfg.Colorize("all benchmarks cached", ColorGray))
	case orchestrator.EventBenchmarkCached:
		p.benchLine(ev, LabelSkip, ColorGray, "cached")
	case orchestrator.EventBenchmarkFinished:
		p.finished(ev)
	case orchestrator.EventUnprocessable:
		p.line(ev.Revision, "  "+p.label(LabelErr, ColorRed)+" revision unprocessable: "+errText(ev.Err))
	case orchestrator.EventProvisionFailed:
		p.line(ev.Revision, "  "+p.label(LabelWarn, ColorYellow)+" provisioning failed: "+errText(ev.Err))
	case orchestrator.EventAnomaly:
		p.benchLine(ev, LabelWarn, ColorYellow, "entry already cached by another writer")
	case orchestrator.EventReconciled:
		p.benchLine(ev, LabelMiss, ColorYellow, "no result recorded")
	case orchestrator.EventBenchmarkStarted:
	}
}

func (p *Progress) revisionHeader(ev orchestrator.Event) string {
	ratio := 0.0
	if ev.Total > 0 {
		ratio = float64(ev.Index) / float64(ev.Total)
	}

	counter := fmt.Sprintf("[%s] %d/%d", DrawProgressBar(ratio, progressBarWidth), ev.Index, ev.Total)
	summary := Truncate(ev.Revision.Summary, max(p.cfg.Width-len([]rune(counter))-len(ev.Revision.Short())-3, len(Ellipsis)))

	return fmt.Sprintf("%s %s %s", p.cfg.Colorize(counter, ColorBlue), p.cfg.Bold(ev.Revision.Short()), summary)
}

func (p *Progress) finished(ev orchestrator.Event) {
	if ev.Outcome == nil {
		return
	}

	took := ev.Outcome.Duration.Round(time.Millisecond).String()

	if ev.Outcome.OK() {
		p.benchLine(ev, LabelPass, ColorGreen, took)

		return
	}

	detail := "failed"
	if ev.Outcome.Failure != nil {
		detail = ev.Outcome.Failure.Error()
	}

	p.benchLine(ev, LabelFail, ColorRed, detail+", "+took)
}

func (p *Progress) benchLine(ev orchestrator.Event, label string, c Color, detail string) {
	p.line(ev.Revision, fmt.Sprintf("  %s %s %s", p.label(label, c), ev.Benchmark, p.cfg.Colorize("("+detail+")", ColorGray)))
}

func (p *Progress) label(label string, c Color) string {
	return p.cfg.Colorize(label, c)
}

func (p *Progress) line(rev revision.Revision, text string) {
	if p.Tagged {
		text = rev.Short() + text
	}

	p.println(text)
}

func (p *Progress) println(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, text)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}

	return err.Error()
}
