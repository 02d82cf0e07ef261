// Package dedupe provides a bounded, time-windowed set of keys used to detect
// realtime echoes that carry no message id.
//
// Keys are compared against the timestamp they were marked with, not against
// the wall clock, so two events are duplicates when their own timestamps fall
// within the window of each other.
package dedupe
