package processor

import (
	"github.com/curtbushko/zoom-extractor/internal/download"
	"github.com/curtbushko/zoom-extractor/internal/logging"
	"github.com/curtbushko/zoom-extractor/internal/metrics"
	"github.com/curtbushko/zoom-extractor/internal/retry"
	"github.com/curtbushko/zoom-extractor/internal/state"
)

// UnitState is the lifecycle state of a user, window, meeting or file
type UnitState int

const (
	UnitPending UnitState = iota
	UnitInProgress
	UnitDone
	UnitFailed
	UnitSkipped
)

func (s UnitState) String() string {
	switch s {
	case UnitPending:
		return "pending"
	case UnitInProgress:
		return "in_progress"
	case UnitDone:
		return "done"
	case UnitFailed:
		return "failed"
	case UnitSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s UnitState) Terminal() bool {
	return s == UnitDone || s == UnitFailed || s == UnitSkipped
}

// Unit kinds used in logs and metrics
const (
	KindUser    = "user"
	KindWindow  = "window"
	KindMeeting = "meeting"
	KindFile    = "file"
)

// transition logs a unit state change and counts terminal states
func transition(logger logging.Logger, collector *metrics.Collector, kind, id, parent string, to UnitState, err error) {
	outcome := logging.EntityOutcome{
		Kind:     kind,
		ID:       id,
		ParentID: parent,
		State:    to.String(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	logger.LogEntityOutcome(outcome)
	if to.Terminal() {
		collector.RecordEntity(kind, to.String())
	}
}

// fileStatus maps a download result onto the checkpoint status. ok is false for
// cancelled downloads, which stay unrecorded so the next run picks them up.
func fileStatus(result *download.DownloadResult) (state.FileStatus, bool) {
	switch result.State {
	case download.DownloadStateCompleted:
		return state.StatusDownloaded, true
	case download.DownloadStateSkipped:
		return state.StatusSkipped, true
	case download.DownloadStateDryRun:
		return state.StatusDryRun, true
	case download.DownloadStateCancelled:
		return "", false
	}

	switch retry.Classify(result.Error) {
	case retry.ErrorTypeCanceled:
		return "", false
	case retry.ErrorTypeUnknown:
		// Local failures such as a full disk or a bad path
		return state.StatusError, true
	default:
		return state.StatusFailed, true
	}
}

// unitFor maps a file status onto the unit lifecycle
func unitFor(status state.FileStatus) UnitState {
	switch status {
	case state.StatusDownloaded, state.StatusDryRun:
		return UnitDone
	case state.StatusSkipped:
		return UnitSkipped
	default:
		return UnitFailed
	}
}
