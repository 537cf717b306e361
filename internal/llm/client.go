// Package llm implements the OpenRouter chat-completions client with
// ordered model fallback and incremental streaming.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Jamolkhon5/chatbot/internal/logging"
	"github.com/Jamolkhon5/chatbot/internal/models"
)

// Completion is the result of a whole-response completion call.
type Completion struct {
	Text       string
	Model      string
	TokensUsed *int
}

// Options configures the client.
type Options struct {
	APIURL        string
	APIKey        string
	Model         string
	FallbackModel string
	SiteURL       string
	SiteName      string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

// Client talks to the OpenRouter chat-completions API.
type Client struct {
	httpClient    *http.Client
	apiURL        string
	apiKey        string
	model         string
	fallbackModel string
	siteURL       string
	siteName      string
	maxTokens     int
	temperature   float64
}

// NewClient builds an OpenRouter client.
func NewClient(opts Options) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: opts.Timeout},
		apiURL:        opts.APIURL,
		apiKey:        opts.APIKey,
		model:         opts.Model,
		fallbackModel: opts.FallbackModel,
		siteURL:       opts.SiteURL,
		siteName:      opts.SiteName,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
	}
}

// Model returns the configured default model.
func (c *Client) Model() string { return c.model }

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func wireMessages(messages []models.Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// candidates builds the ordered model list: the requested model first, then
// the configured fallback when distinct.
func (c *Client) candidates() []string {
	list := []string{c.model}
	if c.fallbackModel != "" && c.fallbackModel != c.model {
		list = append(list, c.fallbackModel)
	}
	return list
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.siteURL)
	req.Header.Set("X-Title", c.siteName)
	return req, nil
}

// Complete sends the messages upstream, trying each candidate model in
// order. Transport-level failures (network, timeout, non-2xx status) advance
// to the next candidate; a malformed response body aborts immediately. The
// last candidate's failure propagates to the caller.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (*Completion, error) {
	candidates := c.candidates()
	wire := wireMessages(messages)

	var lastErr error
	for i, model := range candidates {
		body, err := json.Marshal(completionRequest{
			Model:       model,
			Messages:    wire,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return nil, errors.Wrap(err, "marshal completion request")
		}

		logging.Infof("calling completion API with model %s", model)

		result, err := c.doCompletion(ctx, body)
		if err == nil {
			if result.Model == "" {
				result.Model = model
			}
			return result, nil
		}

		if !isTransport(err) {
			return nil, err
		}

		lastErr = err
		logging.Warnf("completion with model %s failed: %v", model, err)
		if i < len(candidates)-1 {
			logging.Infof("trying fallback model %s", candidates[i+1])
		}
	}

	return nil, errors.Wrapf(lastErr, "all models failed (%s)", strings.Join(candidates, ", "))
}

// transportError marks failures eligible for model fallback.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransport(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

func (c *Client) doCompletion(ctx context.Context, body []byte) (*Completion, error) {
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &transportError{fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(raw))}
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "decode completion response")
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices in completion response")
	}

	result := &Completion{
		Text:  parsed.Choices[0].Message.Content,
		Model: parsed.Model,
	}
	if parsed.Usage.TotalTokens > 0 {
		tokens := parsed.Usage.TotalTokens
		result.TokensUsed = &tokens
	}
	return result, nil
}

// StreamComplete opens a streaming completion with the primary model and
// delivers content fragments as they arrive. There is no model fallback in
// streaming mode: once partial output has been delivered, switching models
// cannot be done safely. The content channel closes when the upstream sends
// its end marker or the connection drops; a terminal failure is delivered on
// the error channel.
func (c *Client) StreamComplete(ctx context.Context, messages []models.Message) (<-chan string, <-chan error) {
	contentCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)

		body, err := json.Marshal(completionRequest{
			Model:       c.model,
			Messages:    wireMessages(messages),
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			Stream:      true,
		})
		if err != nil {
			errCh <- errors.Wrap(err, "marshal stream request")
			return
		}

		req, err := c.newRequest(ctx, body)
		if err != nil {
			errCh <- err
			return
		}

		logging.Infof("starting streaming completion with model %s", c.model)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errCh <- errors.Wrap(err, "open stream")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errCh <- fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(raw))
			return
		}

		if err := c.readStream(ctx, resp.Body, contentCh); err != nil {
			errCh <- err
		}
	}()

	return contentCh, errCh
}

// readStream parses newline-delimited SSE frames. Each frame is either the
// [DONE] sentinel or a JSON fragment carrying a content delta. Frames that
// fail to parse are skipped with a warning so one format hiccup does not
// kill the whole stream.
func (c *Client) readStream(ctx context.Context, body io.Reader, contentCh chan<- string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			logging.Warnf("skipping unparsable stream frame: %.80s", data)
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		content := frame.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		select {
		case contentCh <- content:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read stream")
	}
	return nil
}

// EstimateTokens roughly estimates the token count of text, about four
// characters per token. Advisory accounting only.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// CountMessagesTokens estimates the total tokens across messages.
func CountMessagesTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
	}
	return total
}
