package agent

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/freol35241/lisa-loop/internal/term"
)

// ansiRewrite moves the cursor up one line and clears it, so the status
// line is redrawn in place.
const ansiRewrite = "\x1b[1A\x1b[2K"

// statusLine renders a single in-place progress line while an agent
// runs: elapsed time, tool count, and the last tool used. A background
// goroutine re-renders every second so the clock ticks even when the
// agent is quiet; update calls from the stream reader refresh the tool
// info. All shared state is mutex-guarded.
type statusLine struct {
	mu sync.Mutex

	out     io.Writer
	phase   string
	started time.Time

	toolCount int
	lastTool  string
	rendered  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func newStatusLine(out io.Writer, phase string, started time.Time) *statusLine {
	return &statusLine{
		out:     out,
		phase:   phase,
		started: started,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// start launches the ticker goroutine.
func (s *statusLine) start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.render()
			}
		}
	}()
	s.render()
}

// update records new tool activity and redraws immediately.
func (s *statusLine) update(toolCount int, lastTool string) {
	s.mu.Lock()
	s.toolCount = toolCount
	s.lastTool = lastTool
	s.mu.Unlock()
	s.render()
}

// render redraws the status line in place.
func (s *statusLine) render() {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("  %s %s · %d tools",
		s.phase,
		time.Since(s.started).Round(time.Second),
		s.toolCount)
	if s.lastTool != "" {
		line += " · " + s.lastTool
	}

	if s.rendered {
		fmt.Fprint(s.out, ansiRewrite)
	}
	fmt.Fprintln(s.out, term.Muted.Render(line))
	s.rendered = true
}

// stop halts the ticker and joins the goroutine. Call exactly once.
func (s *statusLine) stop() {
	close(s.stopCh)
	<-s.doneCh
}

// finish replaces the status line with the final summary.
func (s *statusLine) finish(result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rendered {
		fmt.Fprint(s.out, ansiRewrite)
	}
	fmt.Fprintln(s.out, term.Success.Render(fmt.Sprintf("  ✓ %s · %d tools · $%.4f · %s",
		s.phase,
		result.Stats.ToolCount,
		result.CostUSD,
		result.Elapsed.Round(time.Second))))
	s.rendered = false
}
