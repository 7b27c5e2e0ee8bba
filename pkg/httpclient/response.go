package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

// ResponseError turns a 4xx answer into an AppError and closes the body.
// 400 and 422 mean the request itself was bad (InvalidInput); any other
// status is Rejected. Callers that can name the missing resource handle 404
// before calling this.
//
// The downstream message is taken from the {"error":{"message":...}}
// envelope when the body has one.
func ResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var env struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	msg = fmt.Sprintf("%s: %s", service, msg)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(msg)
	default:
		return apperrors.Rejected(fmt.Sprintf("%s (status %d)", msg, resp.StatusCode))
	}
}
