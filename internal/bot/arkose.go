package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ArkoseToken fetches the challenge token required by gpt-4 family models
// from the captcha-bypass helper. A 511 means the helper hit a captcha it
// cannot solve unattended.
func (s *Session) ArkoseToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.captchaURL+"start?download_images=true", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build arkose request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("arkose request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read arkose response: %w", err)
	}
	var payload struct {
		Token  string `json:"token"`
		Error  string `json:"error"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode arkose response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return payload.Token, nil
	case resp.StatusCode != http.StatusNetworkAuthenticationRequired:
		if payload.Error != "" {
			return "", fmt.Errorf("arkose helper error: %s", payload.Error)
		}
		return "", fmt.Errorf("arkose helper returned status %d", resp.StatusCode)
	case payload.Status == "captcha":
		return "", fmt.Errorf("arkose helper requires an interactive captcha")
	default:
		return "", fmt.Errorf("arkose helper returned status %d", resp.StatusCode)
	}
}
