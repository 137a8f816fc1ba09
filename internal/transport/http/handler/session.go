package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Chandra1295/multi-modal-rag/internal/pkg/jwtutil"
	"github.com/Chandra1295/multi-modal-rag/internal/transport/http/response"
)

// SessionHandler issues tokens carrying the deployment's persistent user
// identity so the browser holds its identity across requests and restarts.
type SessionHandler struct {
	userID     string
	secret     string
	expiration time.Duration
}

func NewSessionHandler(userID, secret string, expiration time.Duration) *SessionHandler {
	return &SessionHandler{
		userID:     userID,
		secret:     secret,
		expiration: expiration,
	}
}

func (h *SessionHandler) Open(c *gin.Context) {
	token, err := jwtutil.GenerateToken(h.secret, h.expiration, h.userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "open session failed")
		return
	}
	response.OK(c, gin.H{
		"user_id": h.userID,
		"token":   token,
	})
}
