package actions

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/go-go-golems/voxchat/pkg/transcript"
)

// Resolve applies the display precedence to a response body: a non-empty
// reply wins, then a non-empty error, then NoReply. A body that is not JSON
// is a protocol error; JSON that is not an object resolves to NoReply.
func Resolve(body []byte) (string, transcript.Failure, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", transcript.FailureProtocol, errors.Wrap(err, "decode response")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return NoReply, transcript.FailureNone, nil
	}
	if s, ok := displayValue(obj["reply"]); ok {
		return s, transcript.FailureNone, nil
	}
	if s, ok := displayValue(obj["error"]); ok {
		return s, transcript.FailureApplication, nil
	}
	return NoReply, transcript.FailureNone, nil
}

// displayValue treats null, false, 0 and "" as empty.
func displayValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		return "true", t
	case float64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
