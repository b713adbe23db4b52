// This code was adapted from https://github.com/dapr/kit/tree/v0.15.4/
// Copyright (C) 2023 The Dapr Authors
// License: Apache2

// Package timerqueue implements a processor for keyed items that are executed at a deadline.
// Items are maintained in an in-memory queue, ordered by the time they are due to be executed.
// Users should interact with the Processor to schedule, replace, and cancel items.
// When the queue has at least 1 item, the processor uses a single background goroutine to wait on the next item to be executed.
package timerqueue
