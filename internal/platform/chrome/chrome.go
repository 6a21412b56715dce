// Package chrome is a minimal DevTools-protocol client for driving one page
// of an already-running headless chrome. It covers exactly the operations the
// sync pipeline needs: navigation, script evaluation, element waits,
// screenshots, and file-input population. Calls are serialized per page; the
// registry session is a singleton stateful resource, so there is never more
// than one in-flight command.
package chrome

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrWaitTimeout is returned when a wait deadline elapses. Callers treat it
// as "no result" rather than a failure, except during login.
var ErrWaitTimeout = errors.New("chrome: wait timed out")

const (
	callTimeout  = 30 * time.Second
	pollInterval = 100 * time.Millisecond
)

// Client discovers pages through a headless chrome DevTools HTTP endpoint.
type Client struct {
	devtoolsURL string
	httpc       *http.Client
}

func NewClient(devtoolsURL string) *Client {
	return &Client{
		devtoolsURL: devtoolsURL,
		httpc:       &http.Client{Timeout: 10 * time.Second},
	}
}

type targetInfo struct {
	ID                   string `json:"id"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// NewPage opens a fresh browser tab and attaches to it.
func (c *Client) NewPage(ctx context.Context) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.devtoolsURL+"/json/new?about:blank", nil)
	if err != nil {
		return nil, fmt.Errorf("new page request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create page target: %w", err)
	}
	defer resp.Body.Close()

	var target targetInfo
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return nil, fmt.Errorf("decode page target: %w", err)
	}
	if target.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("page target %s has no debugger URL", target.ID)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial page debugger: %w", err)
	}

	p := &Page{client: c, conn: conn, targetID: target.ID}
	if _, err := p.call(ctx, "Page.enable", nil); err != nil {
		p.Close(ctx)
		return nil, err
	}
	return p, nil
}

// Page is one attached browser tab.
type Page struct {
	client   *Client
	conn     *websocket.Conn
	targetID string

	mu     sync.Mutex
	nextID int64
}

type cdpRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"` // set on events
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call sends one command and reads frames until its reply arrives, discarding
// interleaved protocol events.
func (p *Page) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	req := cdpRequest{ID: p.nextID, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	deadline := time.Now().Add(callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = p.conn.SetReadDeadline(deadline)
		var resp cdpResponse
		if err := p.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("read %s reply: %w", method, err)
		}
		if resp.Method != "" || resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}

// Navigate loads a URL and waits for the document to finish loading.
func (p *Page) Navigate(ctx context.Context, pageURL string) error {
	if _, err := p.call(ctx, "Page.navigate", map[string]any{"url": pageURL}); err != nil {
		return err
	}
	return p.WaitFor(ctx, `document.readyState === "complete"`, callTimeout)
}

// SetContent renders the given HTML in the page via a data URL.
func (p *Page) SetContent(ctx context.Context, html string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(html))
	return p.Navigate(ctx, "data:text/html;base64,"+encoded)
}

type evalResult struct {
	Result struct {
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// Evaluate runs a JS expression and unmarshals its value into out. Pass a nil
// out to ignore the result.
func (p *Page) Evaluate(ctx context.Context, expr string, out any) error {
	raw, err := p.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}

	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	if res.ExceptionDetails != nil {
		msg := res.ExceptionDetails.Text
		if res.ExceptionDetails.Exception != nil {
			msg = res.ExceptionDetails.Exception.Description
		}
		return fmt.Errorf("evaluate: %s", msg)
	}
	if out == nil || res.Result.Value == nil {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluate value: %w", err)
	}
	return nil
}

// WaitFor polls a boolean expression until it is true or the timeout elapses.
func (p *Page) WaitFor(ctx context.Context, expr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		// Evaluation errors during a wait usually mean the page is mid
		// navigation; keep polling until the deadline decides.
		if err := p.Evaluate(ctx, expr, &ok); err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// WaitForSelector waits until the selector matches a visible element.
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return !!el && el.offsetParent !== null;
	})()`, JSString(selector))
	return p.WaitFor(ctx, expr, timeout)
}

// SetViewport fixes the rendered page size.
func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	_, err := p.call(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             width,
		"height":            height,
		"deviceScaleFactor": 1,
		"mobile":            false,
	})
	return err
}

// Screenshot captures the page as a PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	raw, err := p.call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot data: %w", err)
	}
	return img, nil
}

// SetFileInput populates the first file input matching the selector with a
// local file path.
func (p *Page) SetFileInput(ctx context.Context, selector, path string) error {
	raw, err := p.call(ctx, "DOM.getDocument", nil)
	if err != nil {
		return err
	}
	var doc struct {
		Root struct {
			NodeID int `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	raw, err = p.call(ctx, "DOM.querySelector", map[string]any{
		"nodeId":   doc.Root.NodeID,
		"selector": selector,
	})
	if err != nil {
		return err
	}
	var node struct {
		NodeID int `json:"nodeId"`
	}
	if err := json.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("decode node: %w", err)
	}
	if node.NodeID == 0 {
		return fmt.Errorf("no file input matches %q", selector)
	}

	_, err = p.call(ctx, "DOM.setFileInputFiles", map[string]any{
		"nodeId": node.NodeID,
		"files":  []string{path},
	})
	return err
}

// PressEnter dispatches an Enter keypress to the focused element.
func (p *Page) PressEnter(ctx context.Context) error {
	for _, kind := range []string{"rawKeyDown", "char", "keyUp"} {
		params := map[string]any{
			"type":                  kind,
			"key":                   "Enter",
			"code":                  "Enter",
			"windowsVirtualKeyCode": 13,
		}
		if kind == "char" {
			params["text"] = "\r"
		}
		if _, err := p.call(ctx, "Input.dispatchKeyEvent", params); err != nil {
			return err
		}
	}
	return nil
}

// URL returns the page's current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var href string
	if err := p.Evaluate(ctx, "document.location.href", &href); err != nil {
		return "", err
	}
	return href, nil
}

// Close detaches from the tab and asks the browser to dispose of it.
func (p *Page) Close(ctx context.Context) error {
	_ = p.conn.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.client.devtoolsURL+"/json/close/"+url.PathEscape(p.targetID), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("close page target: %w", err)
	}
	resp.Body.Close()
	return nil
}

// JSString safely embeds a Go string into a JS expression.
func JSString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
