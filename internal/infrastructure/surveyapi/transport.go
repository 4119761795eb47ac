package surveyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 8 << 10

func (c *Client) doJSON(ctx context.Context, operation, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return newHTTPStatusError(operation, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// HTTPStatusError is a non-2xx response. Message holds the most specific server-provided
// explanation, or a generic "<operation> failed: <status>" text.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return e.Message
}

func newHTTPStatusError(operation string, resp *http.Response) *HTTPStatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := extractErrorMessage(body)
	if message == "" {
		message = fmt.Sprintf("%s failed: %d", operation, resp.StatusCode)
	}
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// extractErrorMessage prefers "detail" (a string or a list of {"msg"} entries), then
// "error", then "message".
func extractErrorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	switch detail := payload["detail"].(type) {
	case string:
		if msg := strings.TrimSpace(detail); msg != "" {
			return msg
		}
	case []any:
		msgs := make([]string, 0, len(detail))
		for _, item := range detail {
			switch entry := item.(type) {
			case map[string]any:
				if msg, ok := entry["msg"].(string); ok && strings.TrimSpace(msg) != "" {
					msgs = append(msgs, strings.TrimSpace(msg))
				}
			case string:
				if strings.TrimSpace(entry) != "" {
					msgs = append(msgs, strings.TrimSpace(entry))
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	for _, key := range []string{"error", "message"} {
		if msg, ok := payload[key].(string); ok && strings.TrimSpace(msg) != "" {
			return strings.TrimSpace(msg)
		}
	}
	return ""
}
