package core

// IntFromAny converts a numeric value (float64, int, or int64) to int, returning 0 for unsupported types.
func IntFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// Int64FromAny is IntFromAny for unix timestamps and other 64-bit values.
func Int64FromAny(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
