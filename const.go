package intrinsichdr

const (
	// defaultMaxRes caps the longest image side before model processing.
	defaultMaxRes = 4096
	// defaultBaseRes is the low-scale resolution for the ordinal shading estimate.
	defaultBaseRes = 384
	// modelAlign is the spatial alignment required by the network encoders.
	modelAlign = 32
)

const (
	// highlightKnee is where the highlight mask starts ramping up.
	highlightKnee = 0.8
	// albedoQuantile / albedoQuantileTarget fix the scale ambiguity of the
	// decomposition: predicted albedo is rescaled so its 95% quantile is 0.95.
	albedoQuantile       = 0.95
	albedoQuantileTarget = 0.95
)

const defaultTonemapKey = 0.18

const (
	shadingEps = 1e-6
	lumEps     = 1e-4
)
