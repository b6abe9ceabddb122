package mqtt

// TopicPrefix is the root of every ATCS topic.
const TopicPrefix = "flextraff"

// Topics provides builders for ATCS MQTT topics.
//
// Field controllers publish vehicle counts on car_counts and listen for
// signal timings on green_times. Both are flat topics shared by every
// junction: the junction_id travels in the payload.
type Topics struct{}

// CarCounts is where controllers report per-lane vehicle counts.
//
// Example: flextraff/car_counts
func (Topics) CarCounts() string {
	return TopicPrefix + "/car_counts"
}

// GreenTimes is where the core publishes calculated green phases.
//
// Example: flextraff/green_times
func (Topics) GreenTimes() string {
	return TopicPrefix + "/green_times"
}

// SystemStatus carries the core's retained online/offline status and LWT.
//
// Example: flextraff/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}
