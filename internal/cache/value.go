package cache

// NullValue is the sentinel stored in both tiers to record a confirmed
// absence in the source of truth, so repeated misses do not hammer the
// loader (cache-penetration defense).
const NullValue = "@@TIERED_CACHE_NULL_VALUE@@"

// ValueWrapper holds a cached value. A nil *ValueWrapper means the key is
// absent from the cache; a wrapper around nil means the cache holds the null
// sentinel for the key.
type ValueWrapper struct {
	value interface{}
}

// NewValueWrapper wraps a value.
func NewValueWrapper(value interface{}) *ValueWrapper {
	return &ValueWrapper{value: value}
}

// Get returns the wrapped value, nil for the null sentinel.
func (w *ValueWrapper) Get() interface{} {
	if w == nil {
		return nil
	}
	return w.value
}

// isNullToken reports whether a stored token is the null sentinel.
func isNullToken(token interface{}) bool {
	s, ok := token.(string)
	return ok && s == NullValue
}

// tokenFor converts an application value into its stored form.
func tokenFor(value interface{}) interface{} {
	if value == nil {
		return NullValue
	}
	return value
}

// wrapToken converts a stored token into the caller-facing wrapper:
// nil token means absent, the sentinel becomes a wrapper around nil.
func wrapToken(token interface{}) *ValueWrapper {
	if token == nil {
		return nil
	}
	if isNullToken(token) {
		return &ValueWrapper{value: nil}
	}
	return &ValueWrapper{value: token}
}

// unwrapNull converts a stored token into the caller-facing value.
func unwrapNull(token interface{}) interface{} {
	if isNullToken(token) {
		return nil
	}
	return token
}
