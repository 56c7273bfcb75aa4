package permission

// HasAny reports whether held contains at least one of required. An empty
// requirement is never satisfied.
func HasAny(held Set, required ...Code) bool {
	for _, code := range required {
		if held.Has(code) {
			return true
		}
	}
	return false
}

// HasAll reports whether held contains every code in required. An empty
// requirement is vacuously satisfied.
func HasAll(held Set, required ...Code) bool {
	for _, code := range required {
		if !held.Has(code) {
			return false
		}
	}
	return true
}

// Has reports whether held contains code.
func Has(held Set, code Code) bool {
	return HasAll(held, code)
}
