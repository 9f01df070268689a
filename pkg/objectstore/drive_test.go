package objectstore

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
)

func TestWrapDriveError(t *testing.T) {
	err := wrapDriveError("下载", "f1", &googleapi.Error{Code: http.StatusNotFound})
	assert.True(t, mferrors.IsNotFound(err))

	err = wrapDriveError("下载", "f1", &googleapi.Error{Code: http.StatusForbidden})
	assert.False(t, mferrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "f1")

	err = wrapDriveError("删除", "f1", errors.New("boom"))
	assert.Contains(t, err.Error(), "boom")
}

func TestLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer"}`), 0o600))

	token, err := loadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, "rt", token.RefreshToken)

	_, err = loadToken(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
