// Package services implements the routing core: the assignment engine, the
// queue estimator, and the transfer/close orchestration on top of the repo
// layer. This file centralizes common service-level error values so that they
// can be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrDepartmentNotFound indicates that the requested department does
	// not exist or is not active.
	ErrDepartmentNotFound = errors.New("department not found or not active")

	// ErrAgentNotFound indicates that the requested agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentBusy is returned when an agent attempts to claim a chat while
	// already holding an active one (one-chat-per-agent rule).
	ErrAgentBusy = errors.New("agent already has an active chat")

	// ErrChatUnavailable is returned when a claim loses the race: the chat
	// was claimed concurrently, or is no longer waiting.
	ErrChatUnavailable = errors.New("chat already claimed or not available")

	// ErrChatClosed is returned on any attempt to mutate a chat in its
	// terminal state.
	ErrChatClosed = errors.New("chat is closed")

	// ErrInvalidTransition is returned when a requested status change is
	// not permitted by the lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyContent is returned when a message is posted with no content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrNoCustomerCare is returned when a chat arrives without a
	// department and no active customer-care department is configured.
	ErrNoCustomerCare = errors.New("customer care department not configured")
)
