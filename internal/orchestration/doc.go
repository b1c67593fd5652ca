// Package orchestration turns a prime counting request into distributed work
// and answers status queries about it.
//
// A job is submitted as a single dispatch task. The dispatch task fans the
// range out as a chord of count_chunk tasks whose results are summed by one
// aggregate task. Progress is tracked in the shared store so that any API
// process can report it, and the job's state is resolved by following the
// dispatch task's reference to the aggregate task.
package orchestration
