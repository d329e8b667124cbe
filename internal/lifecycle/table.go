// Package lifecycle is the review workflow of a test case.
//
// The whole state machine is the table below. Everything else in the package
// either reads it or applies one of its rows to a case.
package lifecycle

import (
	"time"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/models"
)

// Action names a trigger of the workflow.
type Action string

const (
	ActionSubmit    Action = "submit"
	ActionResubmit  Action = "resubmit"
	ActionClaim     Action = "claim"
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionActivate  Action = "activate"
	ActionDeprecate Action = "deprecate"
	ActionArchive   Action = "archive"
)

type edge struct {
	from models.CaseStatus
	to   models.CaseStatus
}

// table maps every legal (from, to) pair to the action that performs it.
var table = map[edge]Action{
	{models.StatusDraft, models.StatusPendingReview}:       ActionSubmit,
	{models.StatusRejected, models.StatusPendingReview}:    ActionResubmit,
	{models.StatusPendingReview, models.StatusUnderReview}: ActionClaim,
	{models.StatusPendingReview, models.StatusApproved}:    ActionApprove,
	{models.StatusUnderReview, models.StatusApproved}:      ActionApprove,
	{models.StatusUnderReview, models.StatusRejected}:      ActionReject,
	{models.StatusApproved, models.StatusActive}:           ActionActivate,
}

// terminal states have no outgoing transitions.
var terminal = map[models.CaseStatus]bool{
	models.StatusDeprecated: true,
	models.StatusArchived:   true,
}

func init() {
	// administrative exits, legal from every non-terminal state
	for _, s := range models.AllStatuses {
		if terminal[s] {
			continue
		}
		table[edge{s, models.StatusDeprecated}] = ActionDeprecate
		table[edge{s, models.StatusArchived}] = ActionArchive
	}
}

// targetOf is the status each action leads to.
var targetOf = map[Action]models.CaseStatus{
	ActionSubmit:    models.StatusPendingReview,
	ActionResubmit:  models.StatusPendingReview,
	ActionClaim:     models.StatusUnderReview,
	ActionApprove:   models.StatusApproved,
	ActionReject:    models.StatusRejected,
	ActionActivate:  models.StatusActive,
	ActionDeprecate: models.StatusDeprecated,
	ActionArchive:   models.StatusArchived,
}

// Target returns the status action leads to.
func Target(action Action) (models.CaseStatus, bool) {
	to, ok := targetOf[action]
	return to, ok
}

// Allowed reports whether the table contains from -> to.
func Allowed(from, to models.CaseStatus) bool {
	_, ok := table[edge{from, to}]
	return ok
}

// Targets lists the statuses reachable from from in one step.
func Targets(from models.CaseStatus) []models.CaseStatus {
	var out []models.CaseStatus
	for _, to := range models.AllStatuses {
		if Allowed(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.CaseStatus) bool {
	return terminal[s]
}

// CanEdit reports whether the case body and steps may change in status s.
func CanEdit(s models.CaseStatus) bool {
	return s == models.StatusDraft || s == models.StatusRejected
}

// CanExecute reports whether a case in status s may be run.
func CanExecute(s models.CaseStatus) bool {
	return s == models.StatusApproved || s == models.StatusActive
}

// Input carries the caller-supplied data of a transition.
type Input struct {
	OperatorID uint
	// ReviewerID defaults to OperatorID for claim, approve and reject.
	ReviewerID *uint
	Comment    string
}

func (in Input) reviewer() *uint {
	if in.ReviewerID != nil {
		id := *in.ReviewerID
		return &id
	}
	id := in.OperatorID
	return &id
}

// Apply performs action on tc in memory and returns the table row it used.
// On error tc is left untouched.
func Apply(tc *models.TestCase, action Action, in Input, now time.Time) (models.CaseStatus, Action, error) {
	from := tc.Status
	to, ok := Target(action)
	if !ok {
		return "", "", apperr.InvalidOperation("test case", tc.CaseID, "unknown action %q", action)
	}
	row, ok := table[edge{from, to}]
	if !ok {
		return "", "", apperr.InvalidState("test case", tc.CaseID, string(from), string(to))
	}

	switch to {
	case models.StatusPendingReview:
		tc.ClearReview()
	case models.StatusUnderReview:
		tc.ReviewerID = in.reviewer()
	case models.StatusApproved, models.StatusRejected:
		reviewedAt := now
		tc.ReviewerID = in.reviewer()
		tc.ReviewedAt = &reviewedAt
		tc.ReviewComment = in.Comment
	case models.StatusDeprecated:
		tc.Enabled = false
	}

	tc.Status = to
	tc.Version++
	tc.UpdatedBy = in.OperatorID
	return to, row, nil
}
