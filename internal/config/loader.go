package config

import "context"

// Loader translates one configuration file into the shared model. Each
// supported syntax provides its own implementation; the model they produce
// is identical, so everything past this interface is format-agnostic.
type Loader interface {
	Load(ctx context.Context, path string) (*Model, error)
}
