// Package trajectory owns the track-state storage layer of the fitter.
//
// Responsibilities: the MultiTrajectory arena (columnar node storage,
// parent-index forest topology, run-time registered dynamic columns)
// and the TrackStateProxy view type used by every reader and writer.
// Key types: MultiTrajectory, TrackStateProxy, PropMask.
//
// Dependency rule: this package holds no fitting math. The filter and
// smoother live in internal/fit and reach storage only through proxies.
// No SQL/database code is allowed in this package.
package trajectory
