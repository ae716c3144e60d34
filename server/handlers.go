package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"AtmoMix/config"
	"AtmoMix/core/atmosphere"
	"AtmoMix/core/auth"
	"AtmoMix/core/membership"
	"AtmoMix/core/pad"
	"AtmoMix/core/padstate"
	"AtmoMix/logger"
	"AtmoMix/repository"

	"github.com/gorilla/mux"
)

type contextKey string

const usernameKey contextKey = "username"

// APIHandler 处理所有API请求
type APIHandler struct {
	atmospheres *atmosphere.Manager
	service     *atmosphere.Service
	members     *membership.Manager
	pads        *pad.ContextManager
	store       *padstate.Store
	audioFiles  repository.AudioFileRepository
	tokens      *auth.TokenService
	cfg         *config.Config
}

// Deps 处理器依赖
type Deps struct {
	Atmospheres *atmosphere.Manager
	Service     *atmosphere.Service
	Members     *membership.Manager
	Pads        *pad.ContextManager
	Store       *padstate.Store
	AudioFiles  repository.AudioFileRepository
	Tokens      *auth.TokenService
	Config      *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Deps) *APIHandler {
	return &APIHandler{
		atmospheres: deps.Atmospheres,
		service:     deps.Service,
		members:     deps.Members,
		pads:        deps.Pads,
		store:       deps.Store,
		audioFiles:  deps.AudioFiles,
		tokens:      deps.Tokens,
		cfg:         deps.Config,
	}
}

// ========== 认证 ==========

// LoginHandler 校验管理员密码后签发令牌
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "Password is required", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		req.Username = "admin"
	}

	if err := auth.VerifyAdmin(req.Password, h.cfg.AdminPasswordHash); err != nil {
		logger.Warn("[Login] 密码验证失败", logger.String("username", req.Username), logger.ErrorField(err))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.GenerateToken(req.Username)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":    token,
		"username": req.Username,
	})
}

// AuthMiddleware 校验 Bearer 令牌
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		claims, err := h.tokens.ParseToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken 优先取 Authorization 头；浏览器的 websocket 无法设置请求头，允许使用 token 参数
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	return r.URL.Query().Get("token")
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameKey).(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// ========== 工具函数 ==========

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError 按错误类型选择状态码
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *membership.ValidationError
	switch {
	case errors.Is(err, repository.ErrAtmosphereNotFound), errors.Is(err, pad.ErrPadNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, membership.ErrNoAtmosphere), errors.Is(err, atmosphere.ErrNameRequired), errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("请求处理失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// decodeOptional 允许空请求体
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
