package output

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/ltsprep/internal/pipeline"
)

// Progress renders pipeline transitions as numbered steps.
type Progress struct {
	r    *Renderer
	step int
}

// NewProgress creates a pipeline observer that writes through r.
func NewProgress(r *Renderer) *Progress {
	return &Progress{r: r}
}

// StageStarted implements pipeline.Observer.
func (p *Progress) StageStarted(stage pipeline.Stage) {
	p.step++
	p.r.Header(fmt.Sprintf("STEP %d: %s", p.step, p.r.Title(stage.Title)))
}

// StageFinished implements pipeline.Observer.
func (p *Progress) StageFinished(rep pipeline.StageReport) {
	if rep.Status == pipeline.StatusFailed {
		return
	}
	for _, line := range rep.Lines {
		p.r.Println(line)
	}
	if rep.Summary != "" {
		p.r.Success(rep.Summary)
	}
}

// RunFinished implements pipeline.Observer.
func (p *Progress) RunFinished(rep *pipeline.Report) {
	if !rep.Succeeded() {
		if failed, ok := rep.FailedStage(); ok {
			p.r.Error(fmt.Sprintf("%s failed after %s", failed.State, failed.Duration.Round(time.Millisecond)))
		}
		return
	}
	p.r.Header("LTS PREPARATION COMPLETE")
	p.r.Println("Tables created:")
	for _, line := range pipeline.DoneSummary {
		p.r.Println("  - " + line)
	}
	p.r.Println()
	p.r.Muted("Query output.network_with_lts to access the final results.")
}

var _ pipeline.Observer = (*Progress)(nil)
