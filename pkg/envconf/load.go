package envconf

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

var ErrMissingRequired = errors.New("missing required environment variable")

// Load fills dst from the environment. Nested structs are walked, and every
// tagged field without an envDefault is required.
func Load(dst any) error {
	if dst == nil {
		return errors.New("destination is nil")
	}

	err := env.ParseWithOptions(dst, env.Options{RequiredIfNoDef: true})
	if err != nil {
		if errors.Is(err, env.EnvVarIsNotSetError{}) {
			return fmt.Errorf("%w: %w", ErrMissingRequired, err)
		}

		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}
