// Package track keeps the vehicle position history used for trail rendering.
//
// Buffer is a fixed-capacity ring that holds the most recent positions.
// Path is an append-only polyline holding every position ever received.
package track
