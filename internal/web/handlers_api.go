package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tuya-go-home/internal/host"
	"tuya-go-home/internal/siren"
	"tuya-go-home/internal/tuya"
)

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.devices.Devices())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.devices.Device(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		tuya.DeviceInfo
		Sirens []SirenView `json:"sirens"`
	}{dev.Info(), sirenViews(s.entities.ForDevice(dev.ID()))})
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.devices.RemoveDevice(id); err != nil {
		if errors.Is(err, tuya.ErrDeviceNotFound) {
			s.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		s.logger.Error("delete device", "err", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SirenView is the API representation of a siren entity.
type SirenView struct {
	UniqueID       string   `json:"unique_id"`
	Name           string   `json:"name"`
	Icon           string   `json:"icon,omitempty"`
	DeviceID       string   `json:"device_id"`
	EntityCategory string   `json:"entity_category,omitempty"`
	On             bool     `json:"on"`
	Features       []string `json:"features"`
	VolumeLevel    *float64 `json:"volume_level,omitempty"`
}

func newSirenView(e host.Controllable) SirenView {
	v := SirenView{
		UniqueID:       e.UniqueID(),
		Name:           e.Name(),
		Icon:           e.Icon(),
		DeviceID:       e.DeviceID(),
		EntityCategory: string(e.EntityCategory()),
		On:             e.IsOn(),
		Features:       e.Features().Names(),
	}
	if vr, ok := e.(host.VolumeReporter); ok {
		if level, ok := vr.VolumeLevel(); ok {
			v.VolumeLevel = &level
		}
	}
	return v
}

func sirenViews(entities []host.Controllable) []SirenView {
	views := make([]SirenView, 0, len(entities))
	for _, e := range entities {
		views = append(views, newSirenView(e))
	}
	return views
}

func (s *Server) handleAPIListSirens(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, sirenViews(s.entities.List()))
}

func (s *Server) handleAPIGetSiren(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Get(r.PathValue("uid"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "siren not found")
		return
	}
	s.writeJSON(w, http.StatusOK, newSirenView(e))
}

// turnOnRequest carries optional turn_on options. duration is in seconds.
type turnOnRequest struct {
	VolumeLevel *float64 `json:"volume_level"`
	Duration    *float64 `json:"duration"`
}

func (s *Server) handleAPITurnOn(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Get(r.PathValue("uid"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "siren not found")
		return
	}

	var req turnOnRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := host.TurnOnOptions{VolumeLevel: req.VolumeLevel}
	if req.Duration != nil {
		d, err := host.DurationFromSeconds(*req.Duration)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Duration = &d
	}

	s.control(w, e, e.TurnOn(r.Context(), opts))
}

func (s *Server) handleAPITurnOff(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Get(r.PathValue("uid"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "siren not found")
		return
	}
	s.control(w, e, e.TurnOff(r.Context()))
}

// control writes the outcome of a turn_on/turn_off.
func (s *Server) control(w http.ResponseWriter, e host.Controllable, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, siren.ErrUnsupportedOption), errors.Is(err, siren.ErrInvalidOption):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tuya.ErrNoTransport):
		s.writeError(w, http.StatusServiceUnavailable, "no gateway connected")
	default:
		s.logger.Error("siren command", "uid", e.UniqueID(), "err", err)
		s.writeError(w, http.StatusBadGateway, "command failed")
	}
}

// categoryView lists the sirens a device category exposes.
type categoryView struct {
	Category string            `json:"category"`
	Sirens   []descriptionView `json:"sirens"`
}

type descriptionView struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

func (s *Server) handleAPIListCategories(w http.ResponseWriter, r *http.Request) {
	var out []categoryView
	for _, cat := range siren.Categories() {
		cv := categoryView{Category: cat}
		for _, d := range siren.Descriptions(cat) {
			cv.Sirens = append(cv.Sirens, descriptionView{Key: string(d.Key), Name: d.Name, Icon: d.Icon})
		}
		out = append(out, cv)
	}
	s.writeJSON(w, http.StatusOK, out)
}
