package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cabinet-fe/MiniDevOps/internal/dao"
	"github.com/cabinet-fe/MiniDevOps/internal/gitops"
	"github.com/cabinet-fe/MiniDevOps/internal/service"
)

type dataResponse struct {
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

type msgResponse struct {
	Msg string `json:"msg"`
}

type errResponse struct {
	Msg   string `json:"msg"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, dataResponse{Msg: msg, Data: data})
}

func writeMsg(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, msgResponse{Msg: msg})
}

func writeErr(w http.ResponseWriter, code int, msg string, err error) {
	writeJSON(w, code, errResponse{Msg: msg, Error: err.Error()})
}

// statusOf maps caller-facing errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, dao.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRepositoryMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrConflictAlreadyBuilding), errors.Is(err, gitops.ErrDestinationExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrOrchestratorStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) (uint, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid id")
	}
	return uint(v), nil
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
