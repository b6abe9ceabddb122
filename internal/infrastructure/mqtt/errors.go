package mqtt

import "errors"

// Operation errors wrap one of these with the broker's reason; match them
// with errors.Is.
var (
	// ErrNotConnected means the broker link is down. The client keeps
	// reconnecting in the background, so the call may succeed later.
	ErrNotConnected = errors.New("mqtt: broker link down")

	// ErrConnectionFailed wraps why the first connect to the broker failed.
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")

	// ErrPublishFailed wraps a publish the broker rejected or did not
	// acknowledge in time.
	ErrPublishFailed = errors.New("mqtt: publish rejected")

	// ErrSubscribeFailed covers both subscribe and unsubscribe requests.
	ErrSubscribeFailed = errors.New("mqtt: subscription change rejected")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
)
