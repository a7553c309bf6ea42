package api

import (
	"context"
	"testing"

	"github.com/staffdrive/staffdrive/pkg/auth"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopePath(t *testing.T) {
	employee := &auth.Claims{EmployeeID: adaID, Folder: adaID}
	admin := &auth.Claims{EmployeeID: adminID, Folder: adminID, Admin: true}

	tests := []struct {
		name    string
		claims  *auth.Claims
		path    string
		want    string
		wantErr bool
	}{
		{"empty is own folder", employee, "", adaID, false},
		{"slash is own folder", employee, "/", adaID, false},
		{"relative path", employee, "docs/2024", adaID + "/docs/2024", false},
		{"already prefixed", employee, adaID + "/docs", adaID + "/docs", false},
		{"leading slash", employee, "/" + adaID + "/docs/", adaID + "/docs", false},
		{"other folder nests", employee, bobID + "/x", adaID + "/" + bobID + "/x", false},
		{"double slashes", employee, "docs//a", adaID + "/docs/a", false},
		{"dot dot", employee, "../" + bobID, "", true},
		{"inner dot dot", employee, "docs/../../x", "", true},
		{"dot", employee, "./docs", "", true},
		{"admin root", admin, "", "", false},
		{"admin anywhere", admin, bobID + "/x", bobID + "/x", false},
		{"admin dot dot", admin, "..", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScopePath(tt.claims, tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutOfScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNamespaceRoot(t *testing.T) {
	employee := &auth.Claims{EmployeeID: adaID, Folder: adaID}
	admin := &auth.Claims{EmployeeID: adminID, Folder: adminID, Admin: true}

	assert.True(t, isNamespaceRoot(employee, adaID))
	assert.True(t, isNamespaceRoot(employee, "/"+adaID+"/"))
	assert.False(t, isNamespaceRoot(employee, adaID+"/docs"))
	assert.False(t, isNamespaceRoot(admin, adminID))
}

func TestOwnerOf(t *testing.T) {
	s := newTestServer(t, Config{})
	ctx := context.Background()
	require.NoError(t, s.fs.Initialize(ctx, backend.Credentials{}))

	top, err := s.fs.CreateFolder(ctx, adaID, "")
	require.NoError(t, err)
	docs, err := s.fs.CreateFolder(ctx, "docs", adaID)
	require.NoError(t, err)
	deep, err := s.fs.CreateFolder(ctx, "deep", adaID+"/docs")
	require.NoError(t, err)

	b := s.fs.Backend()
	for _, id := range []string{docs.ID, deep.ID} {
		owner, err := ownerOf(ctx, b, id)
		require.NoError(t, err)
		assert.Equal(t, adaID, owner)
	}

	owner, err := ownerOf(ctx, b, top.ID)
	require.NoError(t, err)
	assert.Equal(t, adaID, owner)

	_, err = ownerOf(ctx, b, "missing")
	assert.Error(t, err)
}
