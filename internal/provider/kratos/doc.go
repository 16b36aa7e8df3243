// Package kratos adapts the Ory Kratos admin API and an OAuth2 token
// endpoint to extauth.Provider.
package kratos
