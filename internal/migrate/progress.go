package migrate

import (
	"fmt"
	"io"
	"time"

	"github.com/cheggaaa/pb/v3"

	"github.com/chmdznr/template-file-migrator/pkg/utils"
)

const barTemplate = `{{string . "label"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// ConsoleProgress renders events as stage lines and a progress bar for
// the download and upload stages.
type ConsoleProgress struct {
	out   io.Writer
	bar   *pb.ProgressBar
	label string
	start time.Time
}

// NewConsoleProgress writes to out.
func NewConsoleProgress(out io.Writer) *ConsoleProgress {
	return &ConsoleProgress{out: out, start: time.Now()}
}

// Observe is an Observer.
func (c *ConsoleProgress) Observe(ev Event) {
	switch ev.Kind {
	case EventStage:
		c.finishBar()
		fmt.Fprintln(c.out, ev.Label)
	case EventProgress:
		if ev.Total == 0 {
			return
		}
		if c.bar == nil || c.label != ev.Label {
			c.finishBar()
			c.bar = pb.New(ev.Total)
			c.bar.SetWriter(c.out)
			c.bar.SetTemplate(barTemplate)
			c.bar.Set("label", ev.Label)
			c.bar.Start()
			c.label = ev.Label
		}
		c.bar.SetCurrent(int64(ev.Done))
	case EventFinished:
		c.finishBar()
		if ev.Result != nil {
			fmt.Fprintf(c.out, "%s (in %s)\n", ev.Result.Summary(), utils.FormatDuration(time.Since(c.start)))
		}
	}
}

func (c *ConsoleProgress) finishBar() {
	if c.bar != nil {
		c.bar.Finish()
		c.bar = nil
		c.label = ""
	}
}
