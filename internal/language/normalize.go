package language

import (
	"strings"

	textlang "golang.org/x/text/language"
)

// NormalizeCode reduces a BCP 47 tag or ISO 639 code to its primary language
// subtag: "AZ", "az_Latn_AZ" and "aze" all become "az". Blank, undetermined or
// unparseable input yields "".
func NormalizeCode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	tag, err := textlang.Parse(strings.ReplaceAll(trimmed, "_", "-"))
	if err != nil || tag == textlang.Und {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == textlang.No {
		return ""
	}
	return base.String()
}
