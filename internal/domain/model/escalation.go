package model

import "time"

// EscalationAction is the outcome of evaluating one user's inactivity state.
type EscalationAction string

const (
	DecisionNoAction         EscalationAction = "no_action"
	DecisionSendNotification EscalationAction = "send_notification"
	DecisionTriggerDelivery  EscalationAction = "trigger_delivery"
)

// EscalationDecision is the result of evaluating a user snapshot at a point in time.
type EscalationDecision struct {
	Action        EscalationAction
	Deadline      time.Time
	GraceDeadline time.Time
	// GraceRemaining is positive only while the user is inside the grace period.
	GraceRemaining time.Duration
	// AlreadyTriggered is set when the user's delivery was released and the
	// user has not checked in since.
	AlreadyTriggered bool
}
