package config

import "errors"

var (
	// ErrMissingAPIKey is returned when OPENAI_API_KEY is absent but required.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required")
	// ErrMissingAzureEndpoint is returned for OPENAI_PROVIDER=azure without an endpoint.
	ErrMissingAzureEndpoint = errors.New("AZURE_OPENAI_ENDPOINT is required when OPENAI_PROVIDER=azure")
)
