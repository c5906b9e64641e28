// Package pool runs tasks on a fixed set of worker handles.
//
// Tasks wait in a FIFO queue. Every submit and every settlement runs a
// dispatch pass that hands queued tasks to idle workers, so capacity is never
// left unused while work is waiting. A worker runs one task at a time, which
// bounds the number of running tasks by the pool size. Each task settles its
// own Future; a failing task does not affect its siblings.
//
// Tasks run under their own context with an optional timeout. A task that
// does not return after its context ends is abandoned: its worker handle is
// retired (closed when it implements io.Closer) and replaced, and the slot is
// released.
package pool
