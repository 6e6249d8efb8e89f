package profiles

import (
	"strconv"
	"strings"

	"handyhub/internal/domain"
)

// The profile service has shipped several payload shapes; each field is read
// from the first alias that holds a value.
var profileAliases = map[string][]string{
	"id":         {"id", "account_id", "accountId", "user_id", "userId", "uid"},
	"name":       {"display_name", "displayName", "name", "full_name", "fullName", "profile.name"},
	"first":      {"first_name", "firstName", "profile.first_name", "profile.firstName"},
	"last":       {"last_name", "lastName", "profile.last_name", "profile.lastName"},
	"avatar":     {"avatar_url", "avatarUrl", "avatar", "photo_url", "photo", "profile.avatar", "image.url"},
	"isProvider": {"is_provider", "isProvider", "provider", "profile.is_provider"},
	"role":       {"role", "account_type", "accountType", "type"},
}

func mapProfile(m map[string]any) domain.Profile {
	p := domain.Profile{
		ID:        firstString(m, profileAliases["id"]...),
		AvatarURL: firstString(m, profileAliases["avatar"]...),
	}
	p.DisplayName = firstString(m, profileAliases["name"]...)
	if p.DisplayName == "" {
		p.DisplayName = joinNonEmpty(firstString(m, profileAliases["first"]...), firstString(m, profileAliases["last"]...))
	}
	if b, ok := firstBool(m, profileAliases["isProvider"]...); ok {
		p.IsProvider = b
	} else {
		role := strings.ToLower(firstString(m, profileAliases["role"]...))
		p.IsProvider = role == "provider" || role == "handyman" || role == "pro"
	}
	return p
}

// lookupAny follows a dot path through nested maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// firstString also accepts numeric ids.
func firstString(m map[string]any, paths ...string) string {
	for _, p := range paths {
		switch v := lookupAny(m, p).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstBool(m map[string]any, paths ...string) (bool, bool) {
	for _, p := range paths {
		switch v := lookupAny(m, p).(type) {
		case bool:
			return v, true
		case float64:
			return v != 0, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}
