package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values such as the database URL. String() and
// MarshalJSON() return a redacted placeholder; Unmask() retrieves the raw
// value where it is genuinely needed (connection strings, auth headers).
type SecretString string

// String returns a redacted placeholder instead of the raw value. Invoked by
// the fmt package and by slog when the value is logged.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never appear in serialized config dumps or structured log entries.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
