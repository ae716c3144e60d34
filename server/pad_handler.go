package server

import (
	"encoding/json"
	"net/http"

	"AtmoMix/core/padstate"
	"AtmoMix/model"

	"github.com/gorilla/mux"
)

// ListPadsHandler 全部图层状态，可按上下文过滤
// GET /api/pads?context=mixer
func (h *APIHandler) ListPadsHandler(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("context"); name != "" {
		pads := h.store.GetPadsInContext(name)
		if pads == nil {
			pads = []padstate.ContextPad{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"context": name,
			"pads":    pads,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pads":  h.store.Snapshot(),
		"stats": h.store.Stats(),
	})
}

// AddPadToContextHandler 把音频加入展示上下文
// POST /api/pads/{audioId}/contexts/{context}
func (h *APIHandler) AddPadToContextHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var initial model.PadStatePatch
	if err := decodeOptional(r, &initial); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	file, err := h.audioFiles.GetByID(r.Context(), audioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, "audio file not found")
		return
	}

	state, err := h.pads.AddPadToContext(*file, mux.Vars(r)["context"], initial)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// RemovePadFromContextHandler 移出展示上下文，最后一个上下文移出时停止并释放
// DELETE /api/pads/{audioId}/contexts/{context}
func (h *APIHandler) RemovePadFromContextHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.pads.RemovePadFromContext(audioID, mux.Vars(r)["context"])
	w.WriteHeader(http.StatusNoContent)
}

// TogglePadHandler 播放/停止
// POST /api/pads/{audioId}/toggle
func (h *APIHandler) TogglePadHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.pads.Toggle(r.Context(), audioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// SetPadVolumeHandler 设置音量
// POST /api/pads/{audioId}/volume
func (h *APIHandler) SetPadVolumeHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Volume *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume is required")
		return
	}

	state, err := h.pads.SetVolume(audioID, *req.Volume)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// TogglePadLoopHandler 切换循环
// POST /api/pads/{audioId}/loop
func (h *APIHandler) TogglePadLoopHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.pads.ToggleLoop(audioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// TogglePadMuteHandler 切换静音
// POST /api/pads/{audioId}/mute
func (h *APIHandler) TogglePadMuteHandler(w http.ResponseWriter, r *http.Request) {
	audioID, err := pathInt64(r, "audioId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.pads.ToggleMute(audioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// SetPadDelayHandler 设置随机间隔
// PUT /api/pads/{audioId}/delay
func (h *APIHandler) SetPadDelayHandler(w http.ResponseWriter, r *http.Request) {
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
	state, err := h.pads.SetDelay(audioID, req.MinSeconds, req.MaxSeconds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
