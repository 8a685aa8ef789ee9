package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Voice describes one catalogue entry from the service's voice list.
type Voice struct {
	Name           string `json:"Name"`
	ShortName      string `json:"ShortName"`
	Gender         string `json:"Gender"`
	Locale         string `json:"Locale"`
	SuggestedCodec string `json:"SuggestedCodec"`
	FriendlyName   string `json:"FriendlyName"`
	Status         string `json:"Status"`
}

// ListVoices fetches the service's voice catalogue. The list endpoint takes
// the same trusted-client token and freshness parameters as the synthesis
// socket.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	now := c.now()
	u := fmt.Sprintf("%s?trustedclienttoken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		c.voiceListURL, trustedClientToken,
		secMSGECToken(now, trustedClientToken),
		secMSGECVersion(chromiumFullVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: voice list request: %w", err)
	}
	req.Header.Set("Authority", "speech.platform.bing.com")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge: voice list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge: voice list: unexpected status %d", resp.StatusCode)
	}

	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("edge: voice list: decode: %w", err)
	}
	return voices, nil
}
