// Package generation mints new jobs for the queue's refill mechanism.
// It defines the Generator boundary the controller enqueues through and
// a template-driven implementation that keeps a farm busy with a
// configured mix of job kinds.
package generation
