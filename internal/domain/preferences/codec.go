package preferences

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// Encode serialises the full record.
func Encode(p Preferences) (string, error) {
	data, err := codec.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode merges a persisted record over the defaults field by field. Unknown
// keys are ignored, missing keys keep their default and a section with the
// wrong shape falls back to its default. The returned slice names the fields
// that were rejected. An error is returned only when raw is not a JSON object.
func Decode(raw string) (Preferences, []string, error) {
	out := Defaults()

	var fields map[string]json.RawMessage
	if err := codec.UnmarshalFromString(raw, &fields); err != nil {
		return out, nil, fmt.Errorf("decode preferences: %w", err)
	}

	var rejected []string
	merge := func(name string, apply func(json.RawMessage) error) {
		value, ok := fields[name]
		if !ok || isNull(value) {
			return
		}
		if err := apply(value); err != nil {
			rejected = append(rejected, name)
		}
	}

	merge("theme", func(v json.RawMessage) error {
		var s string
		if err := codec.Unmarshal(v, &s); err != nil {
			return err
		}
		theme, err := ParseTheme(s)
		if err != nil {
			return err
		}
		out.Theme = theme
		return nil
	})
	merge("currency", func(v json.RawMessage) error {
		var s string
		if err := codec.Unmarshal(v, &s); err != nil {
			return err
		}
		currency, err := ParseCurrency(s)
		if err != nil {
			return err
		}
		out.Currency = currency
		return nil
	})
	merge("language", func(v json.RawMessage) error { return decodeString(v, &out.Language) })
	merge("timezone", func(v json.RawMessage) error { return decodeString(v, &out.Timezone) })
	merge("notifications", func(v json.RawMessage) error { return decodeSection(v, &out.Notifications) })
	merge("performance", func(v json.RawMessage) error { return decodeSection(v, &out.Performance) })
	merge("ai", func(v json.RawMessage) error { return decodeSection(v, &out.AI) })
	merge("gamification", func(v json.RawMessage) error { return decodeSection(v, &out.Gamification) })
	merge("whiteLabel", func(v json.RawMessage) error { return decodeSection(v, &out.WhiteLabel) })
	merge("accessibility", func(v json.RawMessage) error { return decodeSection(v, &out.Accessibility) })
	merge("sidebar", func(v json.RawMessage) error { return decodeSection(v, &out.Sidebar) })

	return out, rejected, nil
}

func decodeString(v json.RawMessage, dst *string) error {
	var s string
	if err := codec.Unmarshal(v, &s); err != nil {
		return err
	}
	*dst = s
	return nil
}

// decodeSection unmarshals into a copy of the current section so a partial
// object keeps the remaining defaults and a bad one leaves dst untouched.
func decodeSection[T any](v json.RawMessage, dst *T) error {
	next := *dst
	if err := codec.Unmarshal(v, &next); err != nil {
		return err
	}
	*dst = next
	return nil
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
