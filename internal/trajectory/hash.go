package trajectory

// HashedString is the key type for component and dynamic-column lookup.
// Keys are 64-bit FNV-1a hashes of the column name so that hot-path
// component dispatch is a switch over integers, not string compares.
type HashedString uint64

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

// HashString returns the FNV-1a hash of s.
func HashString(s string) HashedString {
	h := uint64(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return HashedString(h)
}

// Well-known component keys. These resolve to fixed-schema fields in
// Component and Has; everything else goes through the dynamic-column map.
var (
	keyPrevious             = HashString("previous")
	keyPredicted            = HashString("predicted")
	keyFiltered             = HashString("filtered")
	keySmoothed             = HashString("smoothed")
	keyJacobian             = HashString("jacobian")
	keyProjector            = HashString("projector")
	keyCalibrated           = HashString("calibrated")
	keyUncalibrated         = HashString("uncalibrated")
	keyCalibratedSourceLink = HashString("calibratedSourceLink")
	keyReferenceSurface     = HashString("referenceSurface")
	keyMeasDim              = HashString("measdim")
	keyChi2                 = HashString("chi2")
	keyPathLength           = HashString("pathLength")
	keyTypeFlags            = HashString("typeFlags")
)
