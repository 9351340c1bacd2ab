// Package analytics derives per-attribute analytics events from user profile
// changes.
package analytics

import (
	"sort"
	"strings"
	"unicode"

	"real-backend/domain/stream"
)

const userEventPrefix = "UPDATE_USER_"

// Event is one attribute change of a user profile. Values are transportable
// (decimals converted to float64).
type Event struct {
	Type      string `json:"eventType"`
	UserID    string `json:"userId"`
	Attribute string `json:"attribute"`
	Value     any    `json:"value"`
	OldValue  any    `json:"oldValue,omitempty"`
}

// UserAttributeEvents returns one event per changed non-index attribute,
// ordered by attribute name. A nil or empty old image reports every
// attribute of the new one.
func UserAttributeEvents(userID string, newItem, oldItem stream.Item) []Event {
	names := stream.ChangedAttributes(oldItem, newItem)
	sort.Strings(names)

	events := make([]Event, 0, len(names))
	for _, name := range names {
		ev := Event{
			Type:      EventType(name),
			UserID:    userID,
			Attribute: name,
			Value:     stream.Transportable(newItem[name]),
		}
		if oldItem != nil {
			ev.OldValue = stream.Transportable(oldItem[name])
		}
		events = append(events, ev)
	}
	return events
}

// EventType renders "UPDATE_USER_<ATTR>" with the attribute in upper snake
// case, e.g. phoneNumber -> UPDATE_USER_PHONE_NUMBER.
func EventType(attribute string) string {
	return userEventPrefix + upperSnake(attribute)
}

func upperSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
