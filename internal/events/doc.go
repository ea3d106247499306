// Package events provides types and interfaces for task lifecycle
// notifications.
//
// This package defines event types and handler interfaces that allow for loose
// coupling between components in the system. The dispatcher and controller emit
// events without knowing which handlers will process them, enabling better
// separation of concerns and reducing circular dependencies.
//
// The primary components are:
// - TaskEvent: A task lifecycle notification (enqueue through terminal state)
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
// - ChannelHandler: Buffered-channel bridge for pull-style subscribers
package events
