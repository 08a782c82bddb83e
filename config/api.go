package config

// GetAuthSkipperPaths returns paths that skip API authentication.
func GetAuthSkipperPaths() []string {
	// Health and read-only GraphQL queries are public
	return []string{"/health", "/graphql"}
}
