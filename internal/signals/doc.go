// Package signals lets a supervising process wait for signals and child
// deaths without any signal interrupting it outside explicit wait points.
//
// BlockAll routes every catchable signal into a queue owned by the caller.
// Events are then consumed either synchronously with Set.Wait, or through a
// Loop that multiplexes signals, child output descriptors and timeouts over
// a single epoll instance.
package signals
