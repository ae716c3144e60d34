package server

import (
	"encoding/json"
	"net/http"

	"AtmoMix/core/membership"
	"AtmoMix/model"
)

type membershipResponse struct {
	Atmosphere *model.Atmosphere       `json:"atmosphere"`
	Members    []model.AtmosphereSound `json:"members"`
	Loaded     bool                    `json:"loaded"`
	Pending    bool                    `json:"pendingPersist"`
}

func (h *APIHandler) membershipSnapshot() membershipResponse {
	resp := membershipResponse{
		Members: h.members.Members(),
		Loaded:  h.members.IsLoaded(),
		Pending: h.members.HasPendingPersist(),
	}
	if atmo, ok := h.members.Atmosphere(); ok {
		resp.Atmosphere = &atmo
	}
	if resp.Members == nil {
		resp.Members = []model.AtmosphereSound{}
	}
	return resp
}

// GetMembershipHandler 当前编辑中的氛围成员
// GET /api/membership
func (h *APIHandler) GetMembershipHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.membershipSnapshot())
}

// SelectMembershipHandler 切换编辑的氛围
// POST /api/membership/{id}
func (h *APIHandler) SelectMembershipHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.members.SetAtmosphere(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.membershipSnapshot())
}

// AddMemberHandler 加入成员
// POST /api/membership/sounds/{audioId}
func (h *APIHandler) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	exists, err := h.members.AddSound(audioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]bool{"exists": exists})
}

// RemoveMemberHandler 移除成员
// DELETE /api/membership/sounds/{audioId}
func (h *APIHandler) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.members.RemoveSound(audioID) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateMemberHandler 修改成员参数
// PATCH /api/membership/sounds/{audioId}
func (h *APIHandler) UpdateMemberHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var patch membership.MemberPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.members.UpdateMember(audioID, patch) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	member, _ := h.members.Member(audioID)
	writeJSON(w, http.StatusOK, member)
}

// UpdateMemberDelayHandler 修改随机间隔
// PUT /api/membership/sounds/{audioId}/delay
func (h *APIHandler) UpdateMemberDelayHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req delayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.members.UpdateDelayValues(audioID, req.MinSeconds, req.MaxSeconds) {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}

	member, _ := h.members.Member(audioID)
	writeJSON(w, http.StatusOK, member)
}

// FlushMembershipHandler 立即写入，用于失败后的重试
// POST /api/membership/flush
func (h *APIHandler) FlushMembershipHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.members.Flush(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.membershipSnapshot())
}

type delayRequest struct {
	MinSeconds int `json:"minSeconds"`
	MaxSeconds int `json:"maxSeconds"`
}
