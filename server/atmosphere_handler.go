package server

import (
	"net/http"
	"strings"

	"AtmoMix/core/atmosphere"
	"AtmoMix/logger"
	"AtmoMix/model"
)

// ListAtmospheresHandler 全部氛围及其完整性
// GET /api/atmospheres
func (h *APIHandler) ListAtmospheresHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.atmospheres.Refresh(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"atmospheres": summaries,
		"activeId":    h.atmospheres.ActiveID(),
	})
}

// CreateAtmosphereHandler 保存氛围；不带 id 时创建，不带 name 时创建空氛围
// POST /api/atmospheres
func (h *APIHandler) CreateAtmosphereHandler(w http.ResponseWriter, r *http.Request) {
	var payload model.AtmosphereSavePayload
	if err := decodeOptional(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var (
		id  int64
		err error
	)
	if payload.ID == 0 && strings.TrimSpace(payload.Name) == "" {
		id, err = h.atmospheres.CreateEmpty(r.Context(), "")
	} else {
		id, err = h.service.SaveAtmosphere(r.Context(), &payload)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// GetAtmosphereHandler 氛围详情
// GET /api/atmospheres/{id}
func (h *APIHandler) GetAtmosphereHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := h.service.GetAtmosphereWithSounds(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteAtmosphereHandler 删除氛围
// DELETE /api/atmospheres/{id}
func (h *APIHandler) DeleteAtmosphereHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.atmospheres.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	username, _ := GetUsernameFromContext(r.Context())
	logger.Info("氛围已删除", logger.Int64("atmosphereId", id), logger.String("operator", username))
	w.WriteHeader(http.StatusNoContent)
}

// DuplicateAtmosphereHandler 复制氛围
// POST /api/atmospheres/{id}/duplicate
func (h *APIHandler) DuplicateAtmosphereHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	newID, err := h.atmospheres.Duplicate(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": newID})
}

// IntegrityHandler 缺失的音频文件
// GET /api/atmospheres/{id}/integrity
func (h *APIHandler) IntegrityHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	integrity, err := h.service.ComputeIntegrity(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, integrity)
}

// SearchAtmospheresHandler 搜索
// GET /api/atmospheres/search?q=&category=&keywords=a,b
func (h *APIHandler) SearchAtmospheresHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := model.AtmosphereSearch{
		Query:    q.Get("q"),
		Category: q.Get("category"),
	}
	if raw := q.Get("keywords"); raw != "" {
		for _, kw := range strings.Split(raw, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				search.Keywords = append(search.Keywords, kw)
			}
		}
	}

	results, err := h.service.Search(r.Context(), search)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if results == nil {
		results = []*model.Atmosphere{}
	}
	writeJSON(w, http.StatusOK, results)
}

// CategoriesHandler 全部分类
// GET /api/atmospheres/categories
func (h *APIHandler) CategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.GetCategories(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// LoadAtmosphereHandler 交叉淡入到指定氛围，过渡结束后返回
// POST /api/atmospheres/{id}/load
func (h *APIHandler) LoadAtmosphereHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts atmosphere.LoadOptions
	if err := decodeOptional(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.atmospheres.Load(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	username, _ := GetUsernameFromContext(r.Context())
	logger.Debug("氛围加载请求结束",
		logger.Int64("atmosphereId", id),
		logger.String("operator", username),
		logger.Bool("cancelled", res.Cancelled))
	writeJSON(w, http.StatusOK, res)
}

// CancelLoadHandler 取消进行中的过渡
// POST /api/atmospheres/load/cancel
func (h *APIHandler) CancelLoadHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": h.atmospheres.CancelLoad()})
}
