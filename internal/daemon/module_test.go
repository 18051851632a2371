package daemon

import (
	"testing"

	"go.uber.org/fx"
)

// The dependency graph must be resolvable without running any provider.
func TestModuleGraphIsValid(t *testing.T) {
	err := fx.ValidateApp(Module(Params{
		Profile: "default",
		UserID:  "u1",
		Token:   "tok",
	}))
	if err != nil {
		t.Fatalf("fx.ValidateApp: %v", err)
	}
}
