package memory

import (
	"testing"

	"didvault/internal/evidence/registry/registrytest"
)

func TestRegistry(t *testing.T) {
	registrytest.Run(t, New())
}
