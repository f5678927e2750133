// Package session implements the per-user, per-day attendance state machine.
//
// # Overview
//
// A session moves through three states:
//
//	incomplete -> checked_in -> checked_out
//
// CheckIn and CheckOut are the only transitions. Both screen the reported
// GPS sample through the geofence evaluator and the spoofing analyzer, and
// both append a LocationValidation audit row whether the attempt is
// accepted or rejected. Invalid coordinates are the one exception: they
// abort before any write since there is no trustworthy sample to record.
//
// # Duplicate guard
//
// One session per user per calendar day, where the day is defined by the
// configured deployment time zone. A friendly pre-check produces most
// DuplicateSessionError responses, but the store's unique(user_id, date)
// index is the authoritative guard; two racing check-ins resolve to exactly
// one created session.
//
// # Rejections
//
// Every rejection is a typed error carrying the figures the client needs:
// measured distance and allowed radius, risk score, window bounds, elapsed
// versus required minutes. The HTTP layer maps these to stable error codes.
//
// # Accrual events
//
// Completing a session writes an accrual outbox row and attempts delivery
// once, synchronously. Failed deliveries leave the row undelivered for the
// operator-driven redelivery flush, giving at-least-once semantics.
package session
