package preferences

import (
	"fmt"
	"strings"
)

// Theme is the display theme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Currency is the commerce currency used for display.
type Currency string

const (
	CurrencyINR Currency = "INR"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// ParseTheme validates a theme coming from config or the HTTP surface.
func ParseTheme(value string) (Theme, error) {
	switch Theme(strings.ToLower(strings.TrimSpace(value))) {
	case ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	}
	return "", fmt.Errorf("unsupported theme %q", value)
}

// ParseCurrency validates an ISO currency code.
func ParseCurrency(value string) (Currency, error) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(value))); c {
	case CurrencyINR, CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return c, nil
	}
	return "", fmt.Errorf("unsupported currency %q", value)
}

type Notifications struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	SMS   bool `json:"sms"`
	Slack bool `json:"slack"`
	Teams bool `json:"teams"`
}

// Performance budget values are milliseconds.
type Performance struct {
	Budget  int64 `json:"budget"`
	Current int64 `json:"current"`
	Alerts  bool  `json:"alerts"`
}

type AIConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

type Gamification struct {
	Enabled         bool `json:"enabled"`
	ShowLeaderboard bool `json:"showLeaderboard"`
	ShowBadges      bool `json:"showBadges"`
}

type WhiteLabel struct {
	Enabled        bool   `json:"enabled"`
	Logo           string `json:"logo"`
	PrimaryColor   string `json:"primaryColor"`
	SecondaryColor string `json:"secondaryColor"`
	CompanyName    string `json:"companyName"`
	Domain         string `json:"domain"`
}

type Accessibility struct {
	HighContrast       bool `json:"highContrast"`
	DyslexiaFont       bool `json:"dyslexiaFont"`
	ScreenReader       bool `json:"screenReader"`
	KeyboardNavigation bool `json:"keyboardNavigation"`
}

type Sidebar struct {
	Collapsed bool `json:"collapsed"`
	Pinned    bool `json:"pinned"`
}

// Preferences is the full persisted settings record.
type Preferences struct {
	Theme         Theme         `json:"theme"`
	Currency      Currency      `json:"currency"`
	Language      string        `json:"language"`
	Timezone      string        `json:"timezone"`
	Notifications Notifications `json:"notifications"`
	Performance   Performance   `json:"performance"`
	AI            AIConfig      `json:"ai"`
	Gamification  Gamification  `json:"gamification"`
	WhiteLabel    WhiteLabel    `json:"whiteLabel"`
	Accessibility Accessibility `json:"accessibility"`
	Sidebar       Sidebar       `json:"sidebar"`
}

// Defaults returns the record used before anything is persisted.
func Defaults() Preferences {
	return Preferences{
		Theme:    ThemeLight,
		Currency: CurrencyINR,
		Language: "en",
		Timezone: "Asia/Kolkata",
		Notifications: Notifications{
			Email: true,
			Push:  true,
		},
		Performance: Performance{
			Budget: 1000,
			Alerts: true,
		},
		AI: AIConfig{
			Model: "gpt-4",
		},
		Gamification: Gamification{
			Enabled:         true,
			ShowLeaderboard: true,
			ShowBadges:      true,
		},
		WhiteLabel: WhiteLabel{
			PrimaryColor:   "#0ea5e9",
			SecondaryColor: "#d946ef",
			CompanyName:    "Get Catalyzed CRM",
		},
		Accessibility: Accessibility{
			KeyboardNavigation: true,
		},
		Sidebar: Sidebar{
			Pinned: true,
		},
	}
}
