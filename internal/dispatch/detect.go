package dispatch

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

const modelNotFoundCode = "model_not_found"

var modelMissingPhrases = []string{
	"model_not_found",
	"model not found",
	"no such model",
}

// IsModelNotFound reports whether a 404 body says the requested model is
// unknown to the upstream. A body carrying error.code or error.type is
// judged on those fields alone; free text is only read when both are absent.
func IsModelNotFound(body []byte) bool {
	if gjson.ValidBytes(body) {
		errObj := gjson.GetBytes(body, "error")
		if !errObj.IsObject() {
			errObj = gjson.ParseBytes(body)
		}
		structured := false
		for _, field := range []string{"code", "type"} {
			v := errObj.Get(field).String()
			if v == "" {
				continue
			}
			if strings.EqualFold(v, modelNotFoundCode) {
				return true
			}
			structured = true
		}
		if structured {
			return false
		}
	}
	lower := bytes.ToLower(body)
	for _, phrase := range modelMissingPhrases {
		if bytes.Contains(lower, []byte(phrase)) {
			return true
		}
	}
	return bytes.Contains(lower, []byte("model")) && bytes.Contains(lower, []byte("does not exist"))
}
