package session

// Config bounds every payload the session will accept from the client.
type Config struct {
	MaxStringBytes   int
	MaxDocumentBytes int
	MaxPackedBytes   int
	MaxImageBytes    int
}

func DefaultConfig() Config {
	return Config{
		MaxStringBytes:   1 << 20,
		MaxDocumentBytes: 16 << 20,
		MaxPackedBytes:   1 << 20,
		MaxImageBytes:    16 << 20,
	}
}

// WithDefaults fills every unset or non-positive limit from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxStringBytes <= 0 {
		c.MaxStringBytes = d.MaxStringBytes
	}
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = d.MaxDocumentBytes
	}
	if c.MaxPackedBytes <= 0 {
		c.MaxPackedBytes = d.MaxPackedBytes
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = d.MaxImageBytes
	}
	return c
}
