package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/leanflow/model"
)

// decodeRunInput reads a RunInput body. Unknown fields are ignored.
func decodeRunInput(r *http.Request) (model.RunInput, error) {
	var in model.RunInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return in, model.NewBadRequestError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			return in, model.NewBadRequestError("request body is empty")
		default:
			return in, model.NewBadRequestError("invalid JSON body: " + err.Error())
		}
	}
	return in, nil
}

func handleOptimize(opt Optimizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := decodeRunInput(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
		if wait {
			run, err := opt.Run(r.Context(), in)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			WriteJSON(w, http.StatusOK, run)
			return
		}

		run, err := opt.Submit(r.Context(), in)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/optimizations/"+run.SessionID)
		WriteJSON(w, http.StatusAccepted, run)
	}
}

func handleGetRun(opt Optimizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := opt.Get(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, run)
	}
}

func handleGetPlan(opt Optimizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := opt.Get(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if run.Plan == nil {
			WriteError(w, r, notReady(run, "plan"))
			return
		}
		WriteJSON(w, http.StatusOK, run.Plan)
	}
}

func handleGetReport(opt Optimizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := opt.Get(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if run.Status != model.RunCompleted {
			WriteError(w, r, notReady(run, "report"))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, run.Report)
	}
}

func handleCancel(opt Optimizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := opt.Cancel(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, run)
	}
}

// notReady explains why an artifact is unavailable: the run's own error
// once it has failed, a conflict while it is still in progress.
func notReady(run *model.PipelineRun, what string) error {
	if run.Status == model.RunFailed && run.Error != nil {
		return &model.ErrorEnvelope{Code: run.Error.Code, Message: run.Error.Message}
	}
	return model.NewConflictError(fmt.Sprintf("run %s has no %s yet (status %s)", run.SessionID, what, run.Status))
}
