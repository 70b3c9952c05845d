package netbox

type NetboxConfig struct {
	API struct {
		URL   string
		Token string
		// Timeout is a duration string, 10s when empty.
		Timeout string
	}
	Sites []string
}

// Enabled reports whether a NetBox API is configured.
func (c NetboxConfig) Enabled() bool {
	return c.API.URL != ""
}
