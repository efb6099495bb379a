package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/ltsprep/internal/pipeline"
)

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{name: "auto on terminal", mode: ModeAuto, isTTY: true, want: ModeText},
		{name: "auto when piped", mode: ModeAuto, isTTY: false, want: ModePlain},
		{name: "empty is auto", mode: "", isTTY: false, want: ModePlain},
		{name: "forced text", mode: ModeText, isTTY: false, want: ModeText},
		{name: "forced plain", mode: ModePlain, isTTY: true, want: ModePlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", "")
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestRenderer_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, true, ModeAuto)
	assert.Equal(t, ModePlain, r.EffectiveMode())

	r = NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, true, ModeText)
	assert.Equal(t, ModeText, r.EffectiveMode())
}

func TestRenderer_NonFileIsNotTTY(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.False(t, r.IsTTY())
	assert.Equal(t, ModePlain, r.EffectiveMode())
}

func TestRenderer_PlainOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModePlain)

	r.Header("STEP 1: Database Setup")
	r.Success("database lts created")
	r.StatusLine("DB_SETUP", "success", true)
	r.Warning("cached file is stale")
	r.Error("boom")

	assert.Contains(t, out.String(), "STEP 1: Database Setup\n"+rule+"\n")
	assert.Contains(t, out.String(), "OK database lts created\n")
	assert.Contains(t, out.String(), "DB_SETUP       success\n")
	assert.NotContains(t, out.String(), "\x1b[")
	assert.Equal(t, "Warning: cached file is stale\nFAILED boom\n", errOut.String())
}

func TestRenderer_TitleCasesStageTitles(t *testing.T) {
	r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, false, ModePlain)
	assert.Equal(t, "Loading Overture Roads Data", r.Title("loading overture roads data"))
}

func TestRenderer_Table(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModePlain)

	r.Table(table.Row{"Stage", "Status"}, []table.Row{{"DB_SETUP", "success"}})

	assert.Contains(t, out.String(), "STAGE")
	assert.Contains(t, out.String(), "DB_SETUP")
	assert.Contains(t, out.String(), "success")
}

func TestRenderer_JSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModePlain)

	require.NoError(t, r.JSON(map[string]string{"status": "done"}))
	assert.Equal(t, "{\n  \"status\": \"done\"\n}\n", out.String())
}

func TestProgress_SuccessfulRun(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModePlain)
	p := NewProgress(r)

	p.StageStarted(pipeline.Stage{State: pipeline.StateDBSetup, Title: "database setup"})
	p.StageFinished(pipeline.StageReport{State: pipeline.StateDBSetup, Status: pipeline.StatusSuccess, Summary: "database lts exists"})
	p.StageStarted(pipeline.Stage{State: pipeline.StateScoreLTS, Title: "calculating level of traffic stress"})
	p.StageFinished(pipeline.StageReport{
		State:   pipeline.StateScoreLTS,
		Status:  pipeline.StatusSuccess,
		Summary: "LTS script finished",
		Lines:   []string{"LTS 1: 120 links"},
	})
	p.RunFinished(&pipeline.Report{Final: pipeline.StateDone})

	got := out.String()
	assert.Contains(t, got, "STEP 1: Database Setup")
	assert.Contains(t, got, "STEP 2: Calculating Level Of Traffic Stress")
	assert.Contains(t, got, "OK database lts exists")
	assert.Contains(t, got, "LTS 1: 120 links\nOK LTS script finished\n")
	for _, line := range pipeline.DoneSummary {
		assert.Contains(t, got, "  - "+line)
	}
	assert.Contains(t, got, "Query output.network_with_lts to access the final results.")
}

func TestProgress_FailedRun(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModePlain)
	p := NewProgress(r)

	failed := pipeline.StageReport{
		State:    pipeline.StateLoadNetwork,
		Status:   pipeline.StatusFailed,
		Summary:  "ignored",
		Duration: 1500 * time.Millisecond,
		Err:      errors.New("shapefile not found"),
	}
	p.StageStarted(pipeline.Stage{State: pipeline.StateLoadNetwork, Title: "loading network data"})
	p.StageFinished(failed)
	p.RunFinished(&pipeline.Report{Final: pipeline.StateFailed, Stages: []pipeline.StageReport{failed}})

	assert.NotContains(t, out.String(), "ignored")
	assert.NotContains(t, out.String(), "COMPLETE")
	assert.Equal(t, "FAILED LOAD_NETWORK failed after 1.5s\n", errOut.String())
}
