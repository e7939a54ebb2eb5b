package adminapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pranakorn/creditbot/internal/admin"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type operatorPayload struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (server *Server) handleLogin(ginContext *gin.Context) {
	var request loginRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	operator, err := server.operators.Authenticate(ginContext.Request.Context(), request.Email, request.Password)
	if errors.Is(err, admin.ErrBadCredentials) {
		ginContext.JSON(http.StatusUnauthorized, errorResponse("bad_credentials", "email or password is wrong"))
		return
	}
	if err != nil {
		server.logger.Error("login failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "login failed"))
		return
	}
	signed, expires, err := server.sessions.mint(operator.ID, operator.Email, operator.Name)
	if err != nil {
		server.logger.Error("session mint failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "login failed"))
		return
	}
	server.sessions.setCookie(ginContext, signed, expires)
	ginContext.JSON(http.StatusOK, gin.H{"operator": mapOperatorPayload(operator)})
}

func (server *Server) handleLogout(ginContext *gin.Context) {
	server.sessions.clearCookie(ginContext)
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleSession(ginContext *gin.Context) {
	claims := getClaims(ginContext)
	if claims == nil {
		ginContext.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"operator": operatorPayload{
		ID:    claims.OperatorID,
		Email: claims.Email,
		Name:  claims.Name,
	}})
}

func (server *Server) handleListAdmins(ginContext *gin.Context) {
	operators, err := server.operators.Operators(ginContext.Request.Context())
	if err != nil {
		server.logger.Error("admin listing failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "listing failed"))
		return
	}
	payloads := make([]operatorPayload, 0, len(operators))
	for _, operator := range operators {
		payloads = append(payloads, mapOperatorPayload(operator))
	}
	ginContext.JSON(http.StatusOK, gin.H{"admins": payloads})
}

type createAdminRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (server *Server) handleCreateAdmin(ginContext *gin.Context) {
	var request createAdminRequest
	if err := ginContext.ShouldBindJSON(&request); err != nil {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	operator, err := server.operators.CreateOperator(ginContext.Request.Context(), request.Email, request.Name, request.Password)
	if errors.Is(err, admin.ErrOperatorExists) {
		ginContext.JSON(http.StatusConflict, errorResponse("exists", "an admin with that email exists"))
		return
	}
	if errors.Is(err, admin.ErrInvalidInput) {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input", err.Error()))
		return
	}
	if err != nil {
		server.logger.Error("admin creation failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "creation failed"))
		return
	}
	ginContext.JSON(http.StatusCreated, gin.H{"admin": mapOperatorPayload(operator)})
}

func (server *Server) handleDeleteAdmin(ginContext *gin.Context) {
	operatorID, ok := pathID(ginContext)
	if !ok {
		return
	}
	claims := getClaims(ginContext)
	if claims != nil && claims.OperatorID == operatorID {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_input", "cannot delete your own login"))
		return
	}
	err := server.operators.DeleteOperator(ginContext.Request.Context(), operatorID)
	if errors.Is(err, admin.ErrOperatorNotFound) {
		ginContext.JSON(http.StatusNotFound, errorResponse("not_found", "no such admin"))
		return
	}
	if err != nil {
		server.logger.Error("admin deletion failed", zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, errorResponse("internal", "deletion failed"))
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func mapOperatorPayload(operator admin.Operator) operatorPayload {
	return operatorPayload{ID: operator.ID, Email: operator.Email, Name: operator.Name}
}

// pathID parses the :id path parameter, responding 400 itself on failure.
func pathID(ginContext *gin.Context) (int64, bool) {
	parsed, err := strconv.ParseInt(ginContext.Param("id"), 10, 64)
	if err != nil || parsed <= 0 {
		ginContext.JSON(http.StatusBadRequest, errorResponse("invalid_id", "id must be a positive integer"))
		return 0, false
	}
	return parsed, true
}

func queryInt(ginContext *gin.Context, name string, fallback int) int {
	raw := ginContext.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
