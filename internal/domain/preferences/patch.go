package preferences

// Patch types carry partial updates. A nil field leaves the current value untouched.

type NotificationsPatch struct {
	Email *bool `json:"email,omitempty"`
	Push  *bool `json:"push,omitempty"`
	SMS   *bool `json:"sms,omitempty"`
	Slack *bool `json:"slack,omitempty"`
	Teams *bool `json:"teams,omitempty"`
}

type PerformancePatch struct {
	Budget  *int64 `json:"budget,omitempty"`
	Current *int64 `json:"current,omitempty"`
	Alerts  *bool  `json:"alerts,omitempty"`
}

type AIConfigPatch struct {
	Enabled *bool   `json:"enabled,omitempty"`
	APIKey  *string `json:"apiKey,omitempty"`
	Model   *string `json:"model,omitempty"`
}

type GamificationPatch struct {
	Enabled         *bool `json:"enabled,omitempty"`
	ShowLeaderboard *bool `json:"showLeaderboard,omitempty"`
	ShowBadges      *bool `json:"showBadges,omitempty"`
}

type WhiteLabelPatch struct {
	Enabled        *bool   `json:"enabled,omitempty"`
	Logo           *string `json:"logo,omitempty"`
	PrimaryColor   *string `json:"primaryColor,omitempty"`
	SecondaryColor *string `json:"secondaryColor,omitempty"`
	CompanyName    *string `json:"companyName,omitempty"`
	Domain         *string `json:"domain,omitempty"`
}

type AccessibilityPatch struct {
	HighContrast       *bool `json:"highContrast,omitempty"`
	DyslexiaFont       *bool `json:"dyslexiaFont,omitempty"`
	ScreenReader       *bool `json:"screenReader,omitempty"`
	KeyboardNavigation *bool `json:"keyboardNavigation,omitempty"`
}

func (p NotificationsPatch) apply(cur Notifications) Notifications {
	setBool(&cur.Email, p.Email)
	setBool(&cur.Push, p.Push)
	setBool(&cur.SMS, p.SMS)
	setBool(&cur.Slack, p.Slack)
	setBool(&cur.Teams, p.Teams)
	return cur
}

func (p PerformancePatch) apply(cur Performance) Performance {
	if p.Budget != nil {
		cur.Budget = *p.Budget
	}
	if p.Current != nil {
		cur.Current = *p.Current
	}
	setBool(&cur.Alerts, p.Alerts)
	return cur
}

func (p AIConfigPatch) apply(cur AIConfig) AIConfig {
	setBool(&cur.Enabled, p.Enabled)
	setString(&cur.APIKey, p.APIKey)
	setString(&cur.Model, p.Model)
	return cur
}

func (p GamificationPatch) apply(cur Gamification) Gamification {
	setBool(&cur.Enabled, p.Enabled)
	setBool(&cur.ShowLeaderboard, p.ShowLeaderboard)
	setBool(&cur.ShowBadges, p.ShowBadges)
	return cur
}

func (p WhiteLabelPatch) apply(cur WhiteLabel) WhiteLabel {
	setBool(&cur.Enabled, p.Enabled)
	setString(&cur.Logo, p.Logo)
	setString(&cur.PrimaryColor, p.PrimaryColor)
	setString(&cur.SecondaryColor, p.SecondaryColor)
	setString(&cur.CompanyName, p.CompanyName)
	setString(&cur.Domain, p.Domain)
	return cur
}

func (p AccessibilityPatch) apply(cur Accessibility) Accessibility {
	setBool(&cur.HighContrast, p.HighContrast)
	setBool(&cur.DyslexiaFont, p.DyslexiaFont)
	setBool(&cur.ScreenReader, p.ScreenReader)
	setBool(&cur.KeyboardNavigation, p.KeyboardNavigation)
	return cur
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Bool and String return pointers for building patches inline.
func Bool(v bool) *bool       { return &v }
func String(v string) *string { return &v }
func Int64(v int64) *int64    { return &v }
