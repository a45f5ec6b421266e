// Package events provides a lightweight in-process publish/subscribe
// mechanism for job lifecycle notifications. It decouples the queue from
// components that want to observe it (logging, future notification hooks)
// without introducing an external message broker.
package events
