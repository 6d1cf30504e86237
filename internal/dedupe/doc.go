// Package dedupe remembers which keys have been claimed, and with what value,
// within a configurable window. The shell uses it so a repeated approve or
// reject for the same interrupt is answered with the original decision
// instead of resuming the agent twice.
package dedupe
