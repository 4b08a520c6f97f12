package utils

// Helper functions
func Float64Ptr(f float64) *float64 {
	return &f
}

func IntPtr(i int) *int {
	return &i
}

// IntValue returns *p, or 0 when p is nil
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
