package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"catalyzed-crm/internal/domain/session"
	platformerrors "catalyzed-crm/internal/platform/errors"
)

// SessionService exposes the session store over HTTP.
type SessionService struct {
	store *session.Store
}

func NewSessionService(store *session.Store) *SessionService {
	return &SessionService{store: store}
}

type sessionView struct {
	session.State
	Phase string `json:"phase"`
}

func viewOf(st session.State) sessionView {
	return sessionView{State: st, Phase: st.Phase.String()}
}

type twoFactorRequest struct {
	Code   string `json:"code"`
	Secret string `json:"secret"`
}

type resetRequest struct {
	Email string `json:"email"`
}

// Register mounts the session routes under group.
func (s *SessionService) Register(group *gin.RouterGroup) {
	g := group.Group("/session")
	g.GET("", s.handleState)
	g.GET("/token", s.handleToken)
	g.POST("/login", s.handleLogin)
	g.POST("/register", s.handleRegister)
	g.POST("/logout", s.handleLogout)
	g.PATCH("/user", s.handleUpdateUser)
	g.POST("/2fa/enable", s.handleEnableTwoFactor)
	g.POST("/2fa/disable", s.handleDisableTwoFactor)
	g.POST("/password-reset", s.handlePasswordReset)
}

func (s *SessionService) handleState(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, viewOf(s.store.State()), "")
}

// handleToken verifies the bearer token, or the current session token when
// no Authorization header is sent.
func (s *SessionService) handleToken(c *gin.Context) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" {
		token = s.store.Token()
	}
	if token == "" {
		RespondFailure(c, session.ErrNotAuthenticated)
		return
	}
	claims, err := s.store.Tokens().Verify(token)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "invalid token", gin.H{"error": err.Error()})
		return
	}
	RespondSuccess(c, http.StatusOK, claims, "")
}

func (s *SessionService) handleLogin(c *gin.Context) {
	var creds session.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		respondBindError(c, err)
		return
	}
	s.respondResult(c, s.store.Login(c.Request.Context(), creds), http.StatusOK)
}

func (s *SessionService) handleRegister(c *gin.Context) {
	var reg session.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		respondBindError(c, err)
		return
	}
	s.respondResult(c, s.store.Register(c.Request.Context(), reg), http.StatusCreated)
}

func (s *SessionService) handleLogout(c *gin.Context) {
	s.store.Logout(c.Request.Context())
	RespondSuccess(c, http.StatusOK, viewOf(s.store.State()), "logged out")
}

func (s *SessionService) handleUpdateUser(c *gin.Context) {
	var patch session.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBindError(c, err)
		return
	}
	st, err := s.store.UpdateUser(c.Request.Context(), patch)
	if err != nil {
		RespondFailure(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, viewOf(st), "")
}

func (s *SessionService) handleEnableTwoFactor(c *gin.Context) {
	var req twoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	s.respondResult(c, s.store.EnableTwoFactor(c.Request.Context(), req.Code), http.StatusOK)
}

func (s *SessionService) handleDisableTwoFactor(c *gin.Context) {
	var req twoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	s.respondResult(c, s.store.DisableTwoFactor(c.Request.Context(), req.Secret), http.StatusOK)
}

func (s *SessionService) handlePasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	res := s.store.ResetPassword(c.Request.Context(), req.Email)
	if !res.Success {
		RespondFailure(c, res.Err)
		return
	}
	RespondSuccess(c, http.StatusAccepted, gin.H{}, "password reset requested")
}

func (s *SessionService) respondResult(c *gin.Context, res session.Result, okStatus int) {
	if !res.Success {
		RespondFailure(c, res.Err)
		return
	}
	RespondSuccess(c, okStatus, viewOf(s.store.State()), "")
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrAccountExists):
		return http.StatusConflict
	}
	switch platformerrors.KindOf(err) {
	case platformerrors.KindValidation:
		return http.StatusBadRequest
	case platformerrors.KindExchange:
		return http.StatusUnauthorized
	case platformerrors.KindDomain:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
