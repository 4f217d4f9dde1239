package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUntypedErrors(t *testing.T) {
	err := FromError(stderrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, KindInternal, err.Kind)
	assert.Nil(t, FromError(nil))
}

func TestCloneKeepsIdentity(t *testing.T) {
	clone := Clone(ErrRoleAlreadyAssigned, "role is manager")
	assert.Equal(t, "role is manager", clone.Message)
	assert.Equal(t, KindPermission, clone.Kind)
	assert.True(t, stderrors.Is(clone, ErrRoleAlreadyAssigned))
	assert.False(t, stderrors.Is(clone, ErrPermissionDenied))
}

func TestWrapAsExposesCause(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := fmt.Errorf("save record: %w", WrapAs(ErrStoreUnavailable, cause, ""))

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsKind(err, KindStore))
	assert.Equal(t, http.StatusServiceUnavailable, FromError(err).Status)
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, KindValidation, New("X", http.StatusBadRequest, "x").Kind)
	assert.Equal(t, KindConflict, New("X", http.StatusConflict, "x").Kind)
	assert.Equal(t, KindNotFound, ErrNotFound.Kind)
	assert.Equal(t, KindAuth, ErrWeakPassword.Kind)
}
