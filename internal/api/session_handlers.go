package api

import (
	"net/http"

	"github.com/dgmato/PercutaneousNavigation/internal/config"
	"github.com/dgmato/PercutaneousNavigation/internal/httputil"
	"github.com/dgmato/PercutaneousNavigation/internal/navigation"
	"github.com/dgmato/PercutaneousNavigation/internal/topology"
)

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.State())
}

type defineFrameRequest struct {
	Name   string          `json:"name"`
	Matrix *config.Matrix4 `json:"matrix"`
}

// handleFrames lists the graph on GET and defines an operator frame on POST.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.session.Graph().Snapshot())
	case http.MethodPost:
		var req defineFrameRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.Name == "" || req.Matrix == nil {
			httputil.BadRequest(w, "name and matrix are required")
			return
		}
		id, err := s.session.DefineFrame(req.Name, req.Matrix.Frames())
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"id": id, "name": req.Name})
	default:
		httputil.MethodNotAllowed(w)
	}
}

type selectRequest struct {
	Role  string `json:"role"`
	Frame string `json:"frame"`
}

func (s *Server) selectRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req selectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	role, err := topology.ParseRole(req.Role)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.session.Select(role, req.Frame); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.session.State())
}

func (s *Server) applyMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var err error
	switch mode := r.PathValue("mode"); mode {
	case "registration":
		err = s.session.ApplyRegistration()
	case "navigation":
		err = s.session.ApplyNavigation()
	default:
		httputil.NotFound(w, "unknown mode "+mode)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.session.State())
}

func (s *Server) controlDistance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	switch action := r.PathValue("action"); action {
	case "start":
		if err := s.session.StartDistance(); err != nil {
			writeError(w, err)
			return
		}
	case "stop":
		s.session.StopDistance()
	case "measure":
		reading, err := s.session.MeasureOnce()
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{
			"label":   reading.Label(),
			"reading": reading,
		})
		return
	default:
		httputil.NotFound(w, "unknown distance action "+action)
		return
	}
	httputil.WriteJSONOK(w, s.session.State())
}

func (s *Server) toggleViewpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	inst, err := navigation.ParseInstrument(r.PathValue("instrument"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	active, err := s.session.ToggleViewpoint(inst)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"instrument": inst, "active": active})
}

func (s *Server) toggleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	role, err := topology.ParseRole(r.PathValue("role"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	visible, err := s.session.ToggleVisibility(role)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"role": role, "visible": visible})
}
