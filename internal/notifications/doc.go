// Package notifications delivers job outcome messages to ntfy.
//
// NewService builds the HTTP notifier from config and returns a no-op when no
// topic is configured. Watcher subscribes to the notify hub, re-reads each
// changed job from the tracker and sends one message when the job settles.
// Notification failures are logged and dropped; they never affect job state.
package notifications
