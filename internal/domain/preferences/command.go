package preferences

// Command is a closed set of preference mutations handled by Reduce.
type Command interface {
	command()
}

type SetTheme struct{ Theme Theme }
type SetCurrency struct{ Currency Currency }
type SetLanguage struct{ Language string }
type SetTimezone struct{ Timezone string }
type UpdateNotifications struct{ Patch NotificationsPatch }
type UpdatePerformance struct{ Patch PerformancePatch }
type UpdateAIConfig struct{ Patch AIConfigPatch }
type UpdateGamification struct{ Patch GamificationPatch }
type UpdateWhiteLabel struct{ Patch WhiteLabelPatch }
type UpdateAccessibility struct{ Patch AccessibilityPatch }
type ToggleSidebar struct{}
type SetSidebarPinned struct{ Pinned bool }
type ResetDefaults struct{}

func (SetTheme) command()            {}
func (SetCurrency) command()         {}
func (SetLanguage) command()         {}
func (SetTimezone) command()         {}
func (UpdateNotifications) command() {}
func (UpdatePerformance) command()   {}
func (UpdateAIConfig) command()      {}
func (UpdateGamification) command()  {}
func (UpdateWhiteLabel) command()    {}
func (UpdateAccessibility) command() {}
func (ToggleSidebar) command()       {}
func (SetSidebarPinned) command()    {}
func (ResetDefaults) command()       {}

// Reduce returns the record that results from applying cmd to cur. It has no
// side effects; cur is never modified.
func Reduce(cur Preferences, cmd Command) Preferences {
	next := cur
	switch c := cmd.(type) {
	case SetTheme:
		next.Theme = c.Theme
	case SetCurrency:
		next.Currency = c.Currency
	case SetLanguage:
		next.Language = c.Language
	case SetTimezone:
		next.Timezone = c.Timezone
	case UpdateNotifications:
		next.Notifications = c.Patch.apply(cur.Notifications)
	case UpdatePerformance:
		next.Performance = c.Patch.apply(cur.Performance)
	case UpdateAIConfig:
		next.AI = c.Patch.apply(cur.AI)
	case UpdateGamification:
		next.Gamification = c.Patch.apply(cur.Gamification)
	case UpdateWhiteLabel:
		next.WhiteLabel = c.Patch.apply(cur.WhiteLabel)
	case UpdateAccessibility:
		next.Accessibility = c.Patch.apply(cur.Accessibility)
	case ToggleSidebar:
		next.Sidebar.Collapsed = !cur.Sidebar.Collapsed
	case SetSidebarPinned:
		next.Sidebar.Pinned = c.Pinned
	case ResetDefaults:
		next = Defaults()
	}
	return next
}
