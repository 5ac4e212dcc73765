package netio

import (
	"testing"

	"gridstore/testutil"
)

func TestOrchestratorUsesRegistry(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(testutil.InfraImportForbidden, testutil.DriverImportForbidden),
		"import and export select backends through the capability registry")
}
