package services

import "github.com/justbri/shelfmark/models"

type Transition string

const (
	TransitionApprove  Transition = "approve"
	TransitionDeny     Transition = "deny"
	TransitionRetry    Transition = "retry"
	TransitionComplete Transition = "complete"
	TransitionExternal Transition = "update"
)

type transitionRule struct {
	from   []models.Status
	target models.Status
}

var transitionRules = map[Transition]transitionRule{
	TransitionApprove: {
		from:   []models.Status{models.StatusPending},
		target: models.StatusApproved,
	},
	TransitionDeny: {
		from:   []models.Status{models.StatusPending, models.StatusApproved, models.StatusDownloading, models.StatusFailed},
		target: models.StatusDenied,
	},
	TransitionRetry: {
		from:   []models.Status{models.StatusFailed, models.StatusCancelled, models.StatusDenied, models.StatusDownloading, models.StatusApproved},
		target: models.StatusApproved,
	},
	TransitionComplete: {
		from:   []models.Status{models.StatusPending, models.StatusApproved, models.StatusDownloading, models.StatusDenied, models.StatusFailed},
		target: models.StatusFulfilled,
	},
}

// Status changes the fetch pipeline may report.
var externalTransitions = map[models.Status][]models.Status{
	models.StatusApproved:    {models.StatusDownloading, models.StatusFailed},
	models.StatusDownloading: {models.StatusFulfilled, models.StatusFailed},
}

// Target is the status an admin transition moves a request to.
func (t Transition) Target() models.Status {
	return transitionRules[t].target
}

// Allowed reports whether an admin transition may start from the given status.
func (t Transition) Allowed(from models.Status) bool {
	rule, ok := transitionRules[t]
	if !ok {
		return false
	}
	for _, s := range rule.from {
		if s == from {
			return true
		}
	}
	return false
}

// ExternalAllowed reports whether the pipeline may move a request from one status to another.
func ExternalAllowed(from, to models.Status) bool {
	for _, s := range externalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
