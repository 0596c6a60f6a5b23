package handlers

// RadiusFor exposes the radius defaulting to tests
func (p Proximity) RadiusFor(requested float64) float64 {
	return p.radius(requested)
}
