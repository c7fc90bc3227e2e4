package config

// secretFields lists every credential-bearing field of c.
func (c *Config) secretFields() []*string {
	return []*string{
		&c.DeepSeekAPIKey, &c.OpenAIAPIKey, &c.FinnhubAPIKey,
		&c.LongportAppKey, &c.LongportAppSecret, &c.LongportAccessToken,
		&c.BrokerAPIKey, &c.BrokerAPISecret, &c.S3AccessKey, &c.S3SecretKey,
		&c.CheckpointDSN,
	}
}

// Redacted returns a copy of c with every secret masked, for display or for
// answering remote callers.
func (c Config) Redacted() Config {
	out := c.clone()
	for _, secret := range out.secretFields() {
		*secret = MaskSecret(*secret)
	}
	return out
}

// MaskSecret keeps the first and last two characters of long values.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// restoreMasked puts back secrets that next carries in their masked form, so a
// redacted config sent back as an update keeps the real credentials.
func (c *Config) restoreMasked(prev Config) {
	cur := c.secretFields()
	old := prev.secretFields()
	for i := range cur {
		if *old[i] != "" && *cur[i] == MaskSecret(*old[i]) {
			*cur[i] = *old[i]
		}
	}
}
