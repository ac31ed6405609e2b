package reconcile

import (
	"strings"

	"github.com/arencloud/depot/internal/models"
)

// Classification is the coarse state of a provisioning stack.
type Classification string

const (
	Complete   Classification = "complete"
	Failed     Classification = "failed"
	InProgress Classification = "in-progress"
	Absent     Classification = "absent"
)

// Action is a correction to a local record.
type Action string

const (
	ActionUpdateToActive  Action = "update-to-active"
	ActionUpdateToFailed  Action = "update-to-failed"
	ActionUpdateToPending Action = "update-to-pending"
	ActionCleanup         Action = "cleanup"
	ActionRollback        Action = "rollback"
	ActionNone            Action = "none"
)

// Classify maps a CloudFormation stack status onto a Classification.
// Unknown statuses are treated as failed so they surface for review.
func Classify(status string, found bool) Classification {
	s := strings.ToUpper(strings.TrimSpace(status))
	switch {
	case !found || s == "" || s == "DELETE_COMPLETE":
		return Absent
	case strings.HasSuffix(s, "_IN_PROGRESS"):
		return InProgress
	case strings.HasSuffix(s, "FAILED"), strings.HasSuffix(s, "ROLLBACK_COMPLETE"):
		return Failed
	case strings.HasSuffix(s, "_COMPLETE"):
		return Complete
	default:
		return Failed
	}
}

// Verdict is the outcome of comparing a record with its stack. AutoApply
// marks corrections the bulk sweep writes without asking.
type Verdict struct {
	NeedsSync bool
	Action    Action
	AutoApply bool
}

// Decide compares the local status with the remote classification.
func Decide(local models.ResourceStatus, remote Classification, storeExists bool) Verdict {
	switch remote {
	case Complete:
		if local != models.StatusActive {
			return Verdict{NeedsSync: true, Action: ActionUpdateToActive, AutoApply: true}
		}
	case Failed:
		if local != models.StatusFailed {
			return Verdict{NeedsSync: true, Action: ActionUpdateToFailed, AutoApply: true}
		}
	case InProgress:
		if local != models.StatusDeploying {
			return Verdict{NeedsSync: true, Action: ActionNone}
		}
	case Absent:
		if local == models.StatusActive || local == models.StatusDeploying {
			if storeExists {
				return Verdict{NeedsSync: true, Action: ActionUpdateToActive}
			}
			return Verdict{NeedsSync: true, Action: ActionUpdateToPending, AutoApply: true}
		}
	}
	return Verdict{Action: ActionNone}
}
