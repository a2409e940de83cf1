package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// DefaultExpoURL is the Expo push endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound"`
	Badge int               `json:"badge"`
}

type expoResponse struct {
	Data struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoSender sends pushes through the Expo push API.
type ExpoSender struct {
	client *resty.Client
	url    string
}

// NewExpoSender builds an ExpoSender. An empty url falls back to DefaultExpoURL.
func NewExpoSender(client *resty.Client, url string) *ExpoSender {
	if url == "" {
		url = DefaultExpoURL
	}
	return &ExpoSender{client: client, url: url}
}

func (s *ExpoSender) Send(ctx context.Context, push Push) error {
	var out expoResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetBody(expoMessage{
			To:    push.Token,
			Title: push.Title,
			Body:  push.Body,
			Data:  push.Data,
			Sound: "default",
			Badge: push.Badge,
		}).
		SetResult(&out).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("expo request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("expo returned %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("expo error %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}
	if out.Data.Status == "error" {
		return fmt.Errorf("expo ticket error: %s", out.Data.Message)
	}
	return nil
}
