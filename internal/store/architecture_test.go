package store

import (
	"testing"

	"gridstore/testutil"
)

func TestStoreIsBackendAgnostic(t *testing.T) {
	forbidden := testutil.AnyOf(testutil.InfraImportForbidden, testutil.DriverImportForbidden, func(path string) bool {
		return path == "gridstore/internal/backend" || path == "gridstore/internal/netio"
	})
	testutil.AssertNoTransitiveDependency(t, "gridstore/internal/store", forbidden, "the component store holds data only")
}
