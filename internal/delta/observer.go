package delta

import (
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-delta/internal/models"
)

// Observer receives trace points from an Estimator. Calls are best-effort and
// never influence the result.
type Observer interface {
	// Candidates is called once per estimate with the number of usable readings near target
	Candidates(target int64, count int)

	// Interpolated is called when readings on both sides of the target were weighted
	Interpolated(before, after models.Reading, weightBefore, weightAfter, expected, delta float64)

	// Nearest is called for one-sided estimates. intervals is 0 when the anchor
	// was zero report intervals away and no delta was computed.
	Nearest(anchor models.Reading, intervals, delta float64)
}

// NopObserver discards all trace points
type NopObserver struct{}

func (NopObserver) Candidates(int64, int) {}

func (NopObserver) Interpolated(models.Reading, models.Reading, float64, float64, float64, float64) {}

func (NopObserver) Nearest(models.Reading, float64, float64) {}

// ZapObserver writes trace points to a zap logger at debug level
type ZapObserver struct {
	log *zap.SugaredLogger
}

// NewZapObserver creates an observer logging to logger, or nowhere if logger is nil
func NewZapObserver(logger *zap.SugaredLogger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ZapObserver{log: logger.Named("delta")}
}

func (o *ZapObserver) Candidates(target int64, count int) {
	if count == 0 {
		o.log.Debugw("no readings in window around target", "target", time.UnixMilli(target))
		return
	}
	o.log.Debugw("found readings in window around target",
		"target", time.UnixMilli(target),
		"count", count)
}

func (o *ZapObserver) Interpolated(before, after models.Reading, weightBefore, weightAfter, expected, delta float64) {
	o.log.Debugw("interpolated delta",
		"before", before.Time(),
		"after", after.Time(),
		"weight_before", weightBefore,
		"weight_after", weightAfter,
		"expected", expected,
		"delta", delta)
}

func (o *ZapObserver) Nearest(anchor models.Reading, intervals, delta float64) {
	if intervals == 0 {
		o.log.Debugw("single-sided reading has zero elapsed intervals, no delta",
			"anchor", anchor.Time())
		return
	}
	o.log.Debugw("single-sided delta",
		"anchor", anchor.Time(),
		"intervals", intervals,
		"delta", delta)
}
