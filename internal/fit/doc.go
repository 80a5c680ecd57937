// Package fit holds the sequential-estimation passes of the track fitter.
//
// Responsibilities: the Kalman measurement update (GainMatrixUpdater) that
// turns a predicted state into a filtered one, and the backward Modified
// Bryson-Frazier smoother (MbfSmoother) that writes smoothed states over a
// filtered chain in a single traversal.
// Key types: GainMatrixUpdater, MbfSmoother, Direction.
//
// Dependency rule: fit reads and writes track states exclusively through
// trajectory.TrackStateProxy; it never touches storage layout.
package fit
