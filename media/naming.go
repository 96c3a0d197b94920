package media

import (
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

const artifactTimeLayout = "20060102150405"

// SanitizeName reduces a client supplied name to a safe base file name.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

// artifactName is <YYYYMMDDHHMMSS>_<name>, or <YYYYMMDDHHMMSS>_<uuid8>_<name>
// when withSuffix is set after a same-second collision.
func artifactName(now time.Time, logicalName string, withSuffix bool) string {
	ts := now.UTC().Format(artifactTimeLayout)
	name := SanitizeName(logicalName)
	if withSuffix {
		return ts + "_" + uuid.NewString()[:8] + "_" + name
	}
	return ts + "_" + name
}
