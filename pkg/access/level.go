package access

import (
	"fmt"
	"strings"
)

// AccessLevel is a role a principal holds on a resource. Values are totally
// ordered; a higher value always includes the rights of every lower value.
type AccessLevel int

const (
	LevelNone       AccessLevel = 0
	LevelGuest      AccessLevel = 10
	LevelReporter   AccessLevel = 20
	LevelDeveloper  AccessLevel = 30
	LevelMaintainer AccessLevel = 40
	LevelOwner      AccessLevel = 50
	LevelAdmin      AccessLevel = 60
)

var levelNames = map[AccessLevel]string{
	LevelNone:       "none",
	LevelGuest:      "guest",
	LevelReporter:   "reporter",
	LevelDeveloper:  "developer",
	LevelMaintainer: "maintainer",
	LevelOwner:      "owner",
	LevelAdmin:      "admin",
}

// AllLevels returns every access level in ascending order
func AllLevels() []AccessLevel {
	return []AccessLevel{LevelNone, LevelGuest, LevelReporter, LevelDeveloper, LevelMaintainer, LevelOwner, LevelAdmin}
}

// String returns the lowercase role name
func (l AccessLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseAccessLevel parses a role name such as "maintainer"
func ParseAccessLevel(s string) (AccessLevel, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for level, name := range levelNames {
		if name == needle {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown access level %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (l AccessLevel) MarshalText() ([]byte, error) {
	if _, ok := levelNames[l]; !ok {
		return nil, fmt.Errorf("unknown access level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *AccessLevel) UnmarshalText(text []byte) error {
	level, err := ParseAccessLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// Max returns the higher of two levels
func Max(a, b AccessLevel) AccessLevel {
	if a > b {
		return a
	}
	return b
}

// Min returns the lower of two levels
func Min(a, b AccessLevel) AccessLevel {
	if a < b {
		return a
	}
	return b
}
