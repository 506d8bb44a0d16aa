// Package tracker implements the per-channel boss tracker.
//
// A Tracker owns all state for one channel: the next encounter time, the clan
// level, the pinned status message and the alert/chirp cycles. Two drivers act
// on it concurrently:
//   - a fixed-cadence tick loop calling Tick
//   - the command dispatcher calling Kill, SetNextEncounter, SetLevel, ...
//
// Every exported operation runs under a single mutex and applies its in-memory
// and durable mutations before returning.
package tracker
