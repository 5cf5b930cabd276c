package crawler

import (
	"errors"
	"strings"
	"testing"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0.0, progressPercent(5, 0))
	assert.Equal(t, 0.0, progressPercent(5, -1))
	assert.InDelta(t, 30.0, progressPercent(3, 10), 1e-9)
	assert.Equal(t, 100.0, progressPercent(12, 10))
}

func TestStatusFor(t *testing.T) {
	long := "https://a.test/" + strings.Repeat("x", 80)

	assert.Equal(t, "Idle", statusFor(model.PhaseIdle, model.ReasonNone, ""))
	assert.Equal(t, "Running", statusFor(model.PhaseRunning, model.ReasonNone, ""))
	assert.Equal(t, "Crawling: https://a.test/", statusFor(model.PhaseRunning, model.ReasonNone, "https://a.test/"))
	assert.Equal(t, "Crawling: "+long[:47]+"...", statusFor(model.PhaseRunning, model.ReasonNone, long))
	assert.Equal(t, "Paused", statusFor(model.PhasePaused, model.ReasonNone, long))
	assert.Equal(t, "Stopped", statusFor(model.PhaseStopped, model.ReasonNone, long))
	assert.Equal(t, "Completed", statusFor(model.PhaseCompleted, model.ReasonQueueEmpty, ""))
	assert.Equal(t, "Completed (max pages reached)", statusFor(model.PhaseCompleted, model.ReasonMaxPagesReached, ""))
}

func TestTruncateURL(t *testing.T) {
	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, truncateURL(exact, 50))
	got := truncateURL(exact+"b", 50)
	assert.Len(t, got, 50)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestReporterDeliversInOrderAndSurvivesFailures(t *testing.T) {
	r := newReporter(zaptest.NewLogger(t))
	var got []string
	r.subscribe(func(model.ProgressEvent) error { panic("boom") })
	r.subscribe(func(model.ProgressEvent) error { return errors.New("closed") })
	unsubscribe := r.subscribe(func(ev model.ProgressEvent) error {
		got = append(got, ev.Progress.Status)
		return nil
	})

	r.publish(model.ProgressEvent{Progress: model.Progress{Status: "Running"}})
	r.publish(model.ProgressEvent{Progress: model.Progress{Status: "Paused"}})
	unsubscribe()
	unsubscribe()
	r.publish(model.ProgressEvent{Progress: model.Progress{Status: "Stopped"}})

	assert.Equal(t, []string{"Running", "Paused"}, got)
}
