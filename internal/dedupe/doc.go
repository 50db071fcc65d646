// Package dedupe provides a TTL-bounded cache for rejecting duplicate
// message submissions, such as a double-pressed Enter or a client retry
// after a timeout.
package dedupe
