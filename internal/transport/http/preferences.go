package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"catalyzed-crm/internal/domain/preferences"
	platformerrors "catalyzed-crm/internal/platform/errors"
)

// PreferencesService exposes the preferences store over HTTP.
type PreferencesService struct {
	store *preferences.Store
}

func NewPreferencesService(store *preferences.Store) *PreferencesService {
	return &PreferencesService{store: store}
}

type sidebarPatch struct {
	Pinned *bool `json:"pinned,omitempty"`
}

// preferencesPatch is the PATCH body. Sections are applied in field order.
type preferencesPatch struct {
	Theme         *string                         `json:"theme,omitempty"`
	Currency      *string                         `json:"currency,omitempty"`
	Language      *string                         `json:"language,omitempty"`
	Timezone      *string                         `json:"timezone,omitempty"`
	Notifications *preferences.NotificationsPatch `json:"notifications,omitempty"`
	Performance   *preferences.PerformancePatch   `json:"performance,omitempty"`
	AI            *preferences.AIConfigPatch      `json:"ai,omitempty"`
	Gamification  *preferences.GamificationPatch  `json:"gamification,omitempty"`
	WhiteLabel    *preferences.WhiteLabelPatch    `json:"whiteLabel,omitempty"`
	Accessibility *preferences.AccessibilityPatch `json:"accessibility,omitempty"`
	Sidebar       *sidebarPatch                   `json:"sidebar,omitempty"`
}

// commands validates the patch and converts it into store commands.
func (p preferencesPatch) commands() ([]preferences.Command, error) {
	var cmds []preferences.Command
	if p.Theme != nil {
		theme, err := preferences.ParseTheme(*p.Theme)
		if err != nil {
			return nil, invalidPatch(err)
		}
		cmds = append(cmds, preferences.SetTheme{Theme: theme})
	}
	if p.Currency != nil {
		currency, err := preferences.ParseCurrency(*p.Currency)
		if err != nil {
			return nil, invalidPatch(err)
		}
		cmds = append(cmds, preferences.SetCurrency{Currency: currency})
	}
	if p.Language != nil {
		cmds = append(cmds, preferences.SetLanguage{Language: *p.Language})
	}
	if p.Timezone != nil {
		if _, err := time.LoadLocation(*p.Timezone); err != nil {
			return nil, invalidPatch(err)
		}
		cmds = append(cmds, preferences.SetTimezone{Timezone: *p.Timezone})
	}
	if p.Notifications != nil {
		cmds = append(cmds, preferences.UpdateNotifications{Patch: *p.Notifications})
	}
	if p.Performance != nil {
		if b := p.Performance.Budget; b != nil && *b < 0 {
			return nil, platformerrors.New(platformerrors.KindValidation, "preferences.patch", "performance budget must not be negative")
		}
		cmds = append(cmds, preferences.UpdatePerformance{Patch: *p.Performance})
	}
	if p.AI != nil {
		cmds = append(cmds, preferences.UpdateAIConfig{Patch: *p.AI})
	}
	if p.Gamification != nil {
		cmds = append(cmds, preferences.UpdateGamification{Patch: *p.Gamification})
	}
	if p.WhiteLabel != nil {
		cmds = append(cmds, preferences.UpdateWhiteLabel{Patch: *p.WhiteLabel})
	}
	if p.Accessibility != nil {
		cmds = append(cmds, preferences.UpdateAccessibility{Patch: *p.Accessibility})
	}
	if p.Sidebar != nil && p.Sidebar.Pinned != nil {
		cmds = append(cmds, preferences.SetSidebarPinned{Pinned: *p.Sidebar.Pinned})
	}
	return cmds, nil
}

func invalidPatch(err error) error {
	return platformerrors.Wrap(platformerrors.KindValidation, "preferences.patch", "invalid value", err)
}

type observeRequest struct {
	Name       string `json:"name" binding:"required"`
	DurationMS int64  `json:"durationMs" binding:"min=0"`
}

// Register mounts the preferences routes under group.
func (s *PreferencesService) Register(group *gin.RouterGroup) {
	g := group.Group("/preferences")
	g.GET("", s.handleGet)
	g.PATCH("", s.handlePatch)
	g.POST("/reset", s.handleReset)
	g.POST("/sidebar/toggle", s.handleToggleSidebar)
	g.GET("/performance", s.handleBudgetStatus)
	g.POST("/performance/observe", s.handleObserve)
}

func (s *PreferencesService) handleGet(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.store.Snapshot(), "")
}

func (s *PreferencesService) handlePatch(c *gin.Context) {
	var patch preferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondBindError(c, err)
		return
	}
	cmds, err := patch.commands()
	if err != nil {
		RespondFailure(c, err)
		return
	}
	current := s.store.Snapshot()
	for _, cmd := range cmds {
		current = s.store.Dispatch(c.Request.Context(), cmd)
	}
	RespondSuccess(c, http.StatusOK, current, "")
}

func (s *PreferencesService) handleReset(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.store.Reset(c.Request.Context()), "preferences reset")
}

func (s *PreferencesService) handleToggleSidebar(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.store.ToggleSidebar(c.Request.Context()), "")
}

func (s *PreferencesService) handleBudgetStatus(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, s.store.BudgetStatus(), "")
}

func (s *PreferencesService) handleObserve(c *gin.Context) {
	var req observeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	alerted := s.store.Observe(req.Name, time.Duration(req.DurationMS)*time.Millisecond)
	RespondSuccess(c, http.StatusOK, gin.H{"alerted": alerted}, "")
}
