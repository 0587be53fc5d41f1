package svnerr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:           http.StatusNotFound,
		KindMethodNotAllowed:   http.StatusMethodNotAllowed,
		KindBadRequest:         http.StatusBadRequest,
		KindConflict:           http.StatusConflict,
		KindLocked:             http.StatusLocked,
		KindPreconditionFailed: http.StatusPreconditionFailed,
		KindCorrupt:            http.StatusInternalServerError,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), "kind=%s", kind)
	}
}

func TestKindofUnwrapsWrappedError(t *testing.T) {
	base := Wrap(KindConflict, "mkdir", "/trunk", fmt.Errorf("exists"))
	wrapped := fmt.Errorf("staging failed: %w", base)

	require.Equal(t, KindConflict, Kindof(wrapped))
}

func TestKindofDefaultsToInternal(t *testing.T) {
	require.Equal(t, KindInternal, Kindof(fmt.Errorf("plain error")))
}

func TestNotFoundConflictConstructors(t *testing.T) {
	nf := NotFound("get_file", "/missing")
	require.Equal(t, KindNotFound, nf.Kind)
	require.Contains(t, nf.Error(), "/missing")

	c := Conflict("mkdir", "/src")
	require.Equal(t, KindConflict, c.Kind)
}
