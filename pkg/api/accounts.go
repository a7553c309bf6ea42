package api

import (
	"errors"
	"net/http"

	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/directory"
)

type loginRequest struct {
	EmployeeID string `json:"employeeId" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type registerRequest struct {
	EmployeeID string `json:"employeeId" validate:"required,max=64,excludesall=/\\"`
	Password   string `json:"password" validate:"required,min=6"`
	Name       string `json:"name" validate:"required"`
	Department string `json:"department" validate:"required"`
}

type userResponse struct {
	EmployeeID string `json:"employeeId"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Folder     string `json:"folder"`
	Admin      bool   `json:"admin,omitempty"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (a *API) writeSession(w http.ResponseWriter, e *directory.Employee) {
	token, claims, err := a.auth.Issue(e)
	if err != nil {
		logger.Error("Issue token for %s: %v", e.EmployeeID, err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token: token,
		User: userResponse{
			EmployeeID: claims.EmployeeID,
			Name:       claims.Name,
			Department: claims.Department,
			Folder:     claims.Folder,
			Admin:      claims.Admin,
		},
	})
}

// handleLogin handles POST /api/auth.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	e, err := a.dir.Get(r.Context(), req.EmployeeID)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		// Same answer as a bad password.
		writeError(w, http.StatusUnauthorized, "invalid employee id or password")
		return
	case err != nil:
		logger.Error("Login lookup for %s: %v", req.EmployeeID, err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}

	if !directory.VerifyPassword(e.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid employee id or password")
		return
	}

	logger.Info("Employee %s signed in", e.EmployeeID)
	a.writeSession(w, e)
}

// handleRegister handles PUT /api/auth.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.config.AllowRegistration {
		writeError(w, http.StatusForbidden, "registration is disabled")
		return
	}

	var req registerRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	hash, err := directory.HashPassword(req.Password)
	if err != nil {
		logger.Error("Hash password: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	e := &directory.Employee{
		EmployeeID:   req.EmployeeID,
		Name:         req.Name,
		Department:   req.Department,
		PasswordHash: hash,
	}
	switch err := a.dir.Create(r.Context(), e); {
	case errors.Is(err, directory.ErrExists):
		writeError(w, http.StatusConflict, "employee id already registered")
		return
	case err != nil:
		logger.Error("Register %s: %v", req.EmployeeID, err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	logger.Info("Registered employee %s (%s)", e.EmployeeID, e.Department)
	a.writeSession(w, e)
}

// handleNextEmployeeID handles GET /api/employee-id.
func (a *API) handleNextEmployeeID(w http.ResponseWriter, r *http.Request) {
	id, err := directory.NextEmployeeID(r.Context(), a.dir, a.config.IDPrefix, a.config.IDWidth, a.config.MaxEmployees)
	switch {
	case errors.Is(err, directory.ErrNoIDsAvailable):
		writeError(w, http.StatusBadRequest, "no more employee ids available")
		return
	case err != nil:
		logger.Error("Next employee id: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get next employee id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"employeeId": id})
}
