package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

// HTTPClient implements BrokerClient using the ailoop HTTP/JSON REST API.
// Watch uses the WebSocket endpoint on the same address.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ BrokerClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// WebSocketURL returns the broker's /ws endpoint for the given role.
func (c *HTTPClient) WebSocketURL(role string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?role=" + url.QueryEscape(role)
}

// --- Messaging ---

func (c *HTTPClient) SendMessage(ctx context.Context, req *SendMessageRequest) (*model.Message, error) {
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendTaskMessage posts a task_* message and returns the task it produced.
func (c *HTTPClient) SendTaskMessage(ctx context.Context, req *SendMessageRequest) (*model.Task, error) {
	var resp struct {
		Task *model.Task `json:"task"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/messages", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

func (c *HTTPClient) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *HTTPClient) Respond(ctx context.Context, requestID string, req *RespondRequest) (*model.Message, error) {
	var msg model.Message
	path := "/api/v1/messages/" + url.PathEscape(requestID) + "/response"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CancelRequest aborts a pending request.
func (c *HTTPClient) CancelRequest(ctx context.Context, requestID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/messages/"+url.PathEscape(requestID)+"/cancel", nil, nil)
}

func (c *HTTPClient) Request(ctx context.Context, req *RequestRequest) (*RequestResult, error) {
	var res RequestResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/requests", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Watch follows channels over a reconnecting WebSocket viewer.
func (c *HTTPClient) Watch(ctx context.Context, channels []string, fn func(*model.Message) error) error {
	v := NewViewer(c.WebSocketURL("viewer"), channels, c.logger)
	return v.Run(ctx, fn)
}

// --- Channels ---

// ListChannels returns per-channel statistics.
func (c *HTTPClient) ListChannels(ctx context.Context) ([]*model.ChannelStats, error) {
	var resp struct {
		Channels []*model.ChannelStats `json:"channels"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/channels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// History returns the last limit messages of a channel (0 = all), oldest first.
func (c *HTTPClient) History(ctx context.Context, channel string, limit int) ([]*model.Message, error) {
	path := "/api/v1/channels/" + url.PathEscape(channel) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []*model.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ChannelStats returns statistics for one channel.
func (c *HTTPClient) ChannelStats(ctx context.Context, channel string) (*model.ChannelStats, error) {
	var stats model.ChannelStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/channels/"+url.PathEscape(channel)+"/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// --- Tasks ---

func (c *HTTPClient) CreateTask(ctx context.Context, req *CreateTaskRequest) (*model.Task, error) {
	var task model.Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches a task. channel may be empty to search every channel.
func (c *HTTPClient) GetTask(ctx context.Context, channel, id string) (*model.Task, error) {
	path := "/api/v1/tasks/" + url.PathEscape(id)
	if channel != "" {
		path += "?channel=" + url.QueryEscape(channel)
	}
	var task model.Task
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) UpdateTask(ctx context.Context, id string, req *UpdateTaskRequest) (*model.Task, error) {
	var task model.Task
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/tasks/"+url.PathEscape(id), req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context, req *ListTasksRequest) (*ListTasksResponse, error) {
	return c.listTasks(ctx, "/api/v1/tasks", req)
}

func (c *HTTPClient) ReadyTasks(ctx context.Context, req *ListTasksRequest) (*ListTasksResponse, error) {
	return c.listTasks(ctx, "/api/v1/tasks/ready", req)
}

func (c *HTTPClient) BlockedTasks(ctx context.Context, req *ListTasksRequest) (*ListTasksResponse, error) {
	return c.listTasks(ctx, "/api/v1/tasks/blocked", req)
}

func (c *HTTPClient) listTasks(ctx context.Context, path string, req *ListTasksRequest) (*ListTasksResponse, error) {
	q := url.Values{}
	if req.Channel != "" {
		q.Set("channel", req.Channel)
	}
	if len(req.State) > 0 {
		q.Set("state", strings.Join(req.State, ","))
	}
	if req.Assignee != "" {
		q.Set("assignee", req.Assignee)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListTasksResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddDependency makes taskID depend on dependsOn and returns the updated task.
func (c *HTTPClient) AddDependency(ctx context.Context, taskID, dependsOn string, typ model.DependencyType) (*model.Task, error) {
	body := map[string]string{"depends_on": dependsOn}
	if typ != "" {
		body["dependency_type"] = string(typ)
	}
	var task model.Task
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(taskID)+"/dependencies", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *HTTPClient) RemoveDependency(ctx context.Context, taskID, dependsOn string) (*model.Task, error) {
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/dependencies/" + url.PathEscape(dependsOn)
	var task model.Task
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// TaskGraph returns a task with its direct parents and children.
func (c *HTTPClient) TaskGraph(ctx context.Context, channel, id string) (*model.TaskGraph, error) {
	path := "/api/v1/tasks/" + url.PathEscape(id) + "/graph"
	if channel != "" {
		path += "?channel=" + url.QueryEscape(channel)
	}
	var tg model.TaskGraph
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &tg); err != nil {
		return nil, err
	}
	return &tg, nil
}

// --- Events ---

// ListEvents reads the broker's audit log.
func (c *HTTPClient) ListEvents(ctx context.Context, req *ListEventsRequest) ([]*model.Event, error) {
	q := url.Values{}
	if req.Channel != "" {
		q.Set("channel", req.Channel)
	}
	if req.Topic != "" {
		q.Set("topic", req.Topic)
	}
	if req.SubjectID != "" {
		q.Set("subject_id", req.SubjectID)
	}
	if req.AfterID > 0 {
		q.Set("after_id", strconv.FormatInt(req.AfterID, 10))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	path := "/api/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is maps well-known statuses onto the broker's sentinel errors so callers
// can use errors.Is regardless of transport.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == model.ErrNotFound
	case http.StatusRequestTimeout:
		return target == model.ErrTimeout
	}
	return false
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &model.ConnectionError{Addr: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
