package trust

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode"
)

const (
	refusalOpen  = "<tool-refusal>"
	refusalClose = "</tool-refusal>"
)

// Refusal is the structured part of a refusal message.
type Refusal struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Reason    string `json:"reason"`
}

// refusalElement is the XML form. Arguments are base64 so control
// characters survive the round trip.
type refusalElement struct {
	XMLName   xml.Name `xml:"tool-refusal"`
	Tool      string   `xml:"tool"`
	Arguments struct {
		Encoding string `xml:"encoding,attr"`
		Value    string `xml:",chardata"`
	} `xml:"arguments"`
	Reason string `xml:"reason"`
}

// RefusalMessage renders a refusal as assistant text: one readable sentence
// followed by a <tool-refusal> element that ParseRefusal recovers. The
// sentence carries no markup; the element always comes last.
func RefusalMessage(d CallDecision) (string, error) {
	el := refusalElement{Tool: d.Call.Name, Reason: d.Reason}
	el.Arguments.Encoding = "base64"
	el.Arguments.Value = base64.StdEncoding.EncodeToString([]byte(d.Call.Arguments))

	encoded, err := xml.Marshal(el)
	if err != nil {
		return "", fmt.Errorf("encode refusal: %w", err)
	}

	return fmt.Sprintf("I tried to call the tool %q but it was blocked: %s\n\n%s", plain(d.Call.Name), plain(d.Reason), encoded), nil
}

// ParseRefusal extracts the refusal embedded in an assistant message. Only
// the last element counts.
func ParseRefusal(text string) (Refusal, bool) {
	start := strings.LastIndex(text, refusalOpen)
	if start < 0 {
		return Refusal{}, false
	}
	end := strings.Index(text[start:], refusalClose)
	if end < 0 {
		return Refusal{}, false
	}

	var el refusalElement
	if err := xml.Unmarshal([]byte(text[start:start+end+len(refusalClose)]), &el); err != nil {
		return Refusal{}, false
	}

	args := el.Arguments.Value
	if el.Arguments.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(args))
		if err != nil {
			return Refusal{}, false
		}
		args = string(decoded)
	}

	return Refusal{Tool: el.Tool, Arguments: args, Reason: el.Reason}, true
}

// plain drops angle brackets and control characters from text shown in the
// readable sentence.
func plain(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
