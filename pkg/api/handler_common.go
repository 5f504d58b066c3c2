package api

import (
	"github.com/codeready-toolchain/rustyops/pkg/apierrors"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
)

// idFilter matches a single record by its id field.
func idFilter(id string) queryfilter.Filter {
	return queryfilter.Filter{"id": {Op: queryfilter.Equals, Value: id}}
}

func usernameFilter(username string) queryfilter.Filter {
	return queryfilter.Filter{"username": {Op: queryfilter.Equals, Value: username}}
}

// argID extracts the conventional "id" argument.
func argID(args map[string]any) (string, error) {
	return argString(args, "id")
}

// notFoundAsRequest maps storage.ErrNotFound to a RequestError — the
// GraphQL-shaped adapter's way of reporting "no such record" without
// leaking backend detail.
func notFoundAsRequest(err error, what string) error {
	if err == storage.ErrNotFound {
		return apierrors.Newf(apierrors.KindRequest, "%s not found", what)
	}
	return apierrors.StorageErrorf("%s: %s", what, err.Error())
}
