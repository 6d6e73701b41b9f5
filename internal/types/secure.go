package types

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (the trigger secret hash, the database
// URL). String() and MarshalJSON() return a redacted placeholder; Unmask()
// retrieves the raw value where it is genuinely needed.
type SecretString string

// String returns a redacted placeholder instead of the raw value, covering
// fmt functions and structured log attributes.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never appear in serialized config dumps or responses.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw value. Limit usage to the points that actually need
// the secret: connection strings and credential comparison.
func (s SecretString) Unmask() string {
	return string(s)
}
