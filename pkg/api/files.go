package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/auth"
	"github.com/staffdrive/staffdrive/pkg/backend"
	"github.com/staffdrive/staffdrive/pkg/vfs"
)

// multipartMemory is how much of a multipart form is buffered in memory
// before spilling to temp files.
const multipartMemory = 8 << 20

type listResponse struct {
	Files []vfs.FileInfo `json:"files"`
}

type fileResponse struct {
	Success bool          `json:"success"`
	File    *vfs.FileInfo `json:"file,omitempty"`
}

type createFolderRequest struct {
	Name string `json:"name" validate:"required"`
	Path string `json:"path"`
}

// scoped resolves the caller's claims and confines path to their folder,
// creating the folder on first use. It writes the error response itself.
func (a *API) scoped(w http.ResponseWriter, r *http.Request, path string) (*auth.Claims, string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return nil, "", false
	}

	scopedPath, err := ScopePath(claims, path)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return nil, "", false
	}

	if err := a.ensureNamespace(r.Context(), claims); err != nil {
		writeFSError(w, r, err)
		return nil, "", false
	}
	return claims, scopedPath, true
}

// handleList handles GET /api/files?path=.
func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	_, path, ok := a.scoped(w, r, r.URL.Query().Get("path"))
	if !ok {
		return
	}

	files, err := a.fs.List(r.Context(), path)
	if err != nil {
		writeFSError(w, r, err)
		return
	}
	if files == nil {
		files = []vfs.FileInfo{}
	}
	writeJSON(w, http.StatusOK, listResponse{Files: files})
}

// handleCreateFolder handles POST /api/files.
func (a *API) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	_, path, ok := a.scoped(w, r, req.Path)
	if !ok {
		return
	}

	info, err := a.fs.CreateFolder(r.Context(), req.Name, path)
	if err != nil {
		writeFSError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Success: true, File: &info})
}

// handleDelete handles DELETE /api/files?id=. The older form
// ?fileId=&isFolder=true&path= is accepted as well.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if isFolder, _ := strconv.ParseBool(q.Get("isFolder")); isFolder && q.Get("path") != "" {
		a.handleDeleteFolder(w, r)
		return
	}

	id := q.Get("id")
	if id == "" {
		id = q.Get("fileId")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrMissingToken.Error())
		return
	}

	if !claims.Admin {
		owner, err := ownerOf(r.Context(), a.fs.Backend(), id)
		switch {
		case backend.IsNotFound(err):
			writeError(w, http.StatusNotFound, "file not found")
			return
		case err != nil:
			logger.Error("Resolve owner of %s: %v", id, err)
			writeError(w, http.StatusBadGateway, "failed to look up file")
			return
		case owner != claims.Folder:
			writeError(w, http.StatusForbidden, ErrOutOfScope.Error())
			return
		}
	}

	if err := a.fs.DeleteFile(r.Context(), id); err != nil {
		writeFSError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Success: true})
}

// handleDeleteFolder handles DELETE /api/folders?path=.
func (a *API) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if vfs.Clean(raw) == "" {
		writeError(w, http.StatusBadRequest, "folder path is required")
		return
	}

	claims, path, ok := a.scoped(w, r, raw)
	if !ok {
		return
	}
	if isNamespaceRoot(claims, path) {
		writeError(w, http.StatusForbidden, "cannot delete your own root folder")
		return
	}

	if err := a.fs.DeleteFolder(r.Context(), path); err != nil {
		writeFSError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Success: true})
}

// handleUpload handles POST /api/upload with a multipart "file" and an
// optional "path".
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeMultipartError(w, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	if header.Size > a.config.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
		return
	}

	_, path, ok := a.scoped(w, r, r.FormValue("path"))
	if !ok {
		return
	}

	info, err := a.fs.Upload(r.Context(), path, header.Filename, file, header.Size)
	if err != nil {
		writeFSError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fileResponse{Success: true, File: &info})
}

func writeMultipartError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request exceeds the upload limit")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid multipart form")
}

// handleDownload handles GET /api/download/{token}, streaming content of
// backends that keep it themselves.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	if a.links == nil || a.content == nil {
		writeError(w, http.StatusNotFound, "downloads are not served by this backend")
		return
	}

	id, err := a.links.Verify(chi.URLParam(r, "token"))
	if err != nil {
		logger.Debug("Rejected download token: %v", err)
		writeError(w, http.StatusForbidden, "invalid or expired link")
		return
	}

	if err := a.fs.Initialize(r.Context(), a.creds); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not available")
		return
	}

	rc, node, err := a.content.ReadContent(r.Context(), id)
	switch {
	case backend.IsNotFound(err):
		writeError(w, http.StatusNotFound, "file not found")
		return
	case err != nil:
		logger.Error("Read content of %s: %v", id, err)
		writeError(w, http.StatusBadGateway, "failed to read file")
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(filepath.Ext(node.Name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.FormatInt(node.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": node.Name}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		logger.Debug("Download of %s interrupted: %v", id, err)
	}
}
