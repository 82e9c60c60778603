package ai

// Classification is the structured answer requested from the model.
type Classification struct {
	// Service is the chosen catalogue entry, or "" when the request fits none.
	Service string `json:"service"`

	// Confidence is the model's own estimate in [0,1].
	Confidence float64 `json:"confidence"`
}
