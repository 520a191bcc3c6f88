package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"tuya-go-home/internal/automation"
)

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

// scripts returns the script manager, writing an error when automation is
// not configured.
func (s *Server) scripts(w http.ResponseWriter) (*automation.Manager, bool) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusInternalServerError, "automations not available")
		return nil, false
	}
	return s.scriptMgr, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// lookupScript writes 404 for unknown scripts.
func (s *Server) lookupScript(w http.ResponseWriter, mgr *automation.Manager, id string) (*automation.Script, bool) {
	script, err := mgr.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "script not found")
		return nil, false
	}
	return script, true
}

// saveScript persists script and brings the engine in line with its
// enabled flag.
func (s *Server) saveScript(w http.ResponseWriter, mgr *automation.Manager, script *automation.Script, op string) (*automation.Script, bool) {
	saved, err := mgr.Save(script)
	if err != nil {
		s.logger.Error(op+" script", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if s.autoEngine != nil {
		// ReloadScript only stops disabled scripts.
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after "+op, "id", saved.ID, "err", err)
		}
	}
	return saved, true
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	list, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if script, ok := s.lookupScript(w, s.scriptMgr, r.PathValue("id")); ok {
		s.writeJSON(w, http.StatusOK, script)
	}
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.scripts(w)
	if !ok {
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	script := &automation.Script{
		Meta:    automation.ScriptMeta{Name: req.Name, Description: req.Description, Enabled: req.Enabled},
		LuaCode: req.LuaCode,
	}
	if saved, ok := s.saveScript(w, mgr, script, "create"); ok {
		s.writeJSON(w, http.StatusCreated, saved)
	}
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.scripts(w)
	if !ok {
		return
	}
	existing, ok := s.lookupScript(w, mgr, r.PathValue("id"))
	if !ok {
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	existing.Meta = automation.ScriptMeta{Name: req.Name, Description: req.Description, Enabled: req.Enabled}
	existing.LuaCode = req.LuaCode
	if saved, ok := s.saveScript(w, mgr, existing, "update"); ok {
		s.writeJSON(w, http.StatusOK, saved)
	}
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.scripts(w)
	if !ok {
		return
	}
	script, ok := s.lookupScript(w, mgr, r.PathValue("id"))
	if !ok {
		return
	}
	script.Meta.Enabled = !script.Meta.Enabled
	if saved, ok := s.saveScript(w, mgr, script, "toggle"); ok {
		s.writeJSON(w, http.StatusOK, saved)
	}
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.scripts(w)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}

	if err := mgr.Delete(id); err != nil {
		if errors.Is(err, automation.ErrScriptNotFound) {
			s.writeError(w, http.StatusNotFound, "script not found")
			return
		}
		s.logger.Error("delete script", "id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunAutomation runs a saved script once, or the body's lua_code
// when the id is _inline.
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeError(w, http.StatusInternalServerError, "automation engine not available")
		return
	}

	id := r.PathValue("id")
	if id != "_inline" {
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
