package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ircwarden/warden/util"
)

// Interface for a type that can handle sending notifications about sanctions.
type Notifier interface {
	SendIncident(ctx context.Context, inc Incident) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          util.RobustHTTPClient(),
	}
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) SendIncident(ctx context.Context, inc Incident) error {
	return n.sendSlackMsg(ctx, slackBody(inc))
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(respBody) != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(inc Incident) string {
	msg := fmt.Sprintf("⚠️ Warden %s ⚠️\n", strings.ToUpper(string(inc.Action)))
	msg += fmt.Sprintf("`%s` in `%s`\n", inc.User, inc.Channel)
	if len(inc.Categories) > 0 {
		msg += fmt.Sprintf("Categories: `%s`\n", joinCategories(inc.Categories))
	}
	if inc.Mask != "" {
		msg += fmt.Sprintf("Mask: `%s`\n", inc.Mask)
	}
	if inc.Duration > 0 {
		msg += fmt.Sprintf("Duration: %s\n", inc.Duration)
	} else if inc.Action == ActionBan {
		msg += "Duration: permanent\n"
	}
	if inc.Reason != "" {
		msg += fmt.Sprintf("Reason: %s\n", inc.Reason)
	}
	return msg
}
