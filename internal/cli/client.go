package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkflowResponse — workflow из каталога API.
type WorkflowResponse struct {
	Name      string `json:"name"`
	Intent    string `json:"intent"`
	StepCount int    `json:"step_count"`
}

// ProcessResponse — process из API.
type ProcessResponse struct {
	ID          string         `json:"id"`
	Workflow    string         `json:"workflow"`
	Intent      string         `json:"intent"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Status      string         `json:"status"`
	StepIndex   int            `json:"step_index"`
	State       map[string]any `json:"state,omitempty"`
	PendingForm map[string]any `json:"pending_form,omitempty"`
	Failure     *struct {
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"failure,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// StepEntryResponse — запись журнала шагов из API.
type StepEntryResponse struct {
	StepIndex  int    `json:"step_index"`
	StepName   string `json:"step_name"`
	Outcome    string `json:"outcome"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// SubjectResponse — subject из API.
type SubjectResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     string         `json:"state"`
	InSync    bool           `json:"insync"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// EngineResponse — состояние движка из API.
type EngineResponse struct {
	State string `json:"state"`
}

// --- Request types ---

// StartProcessRequest — запуск процесса.
type StartProcessRequest struct {
	SubjectID string         `json:"subject_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

// ResumeRequest — ввод оператора для приостановленного процесса.
type ResumeRequest struct {
	Input map[string]any `json:"input"`
}

// RetryRequest — повтор упавшего шага.
type RetryRequest struct {
	Force bool `json:"force,omitempty"`
}

// CreateSubjectRequest — создание subject'а.
type CreateSubjectRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// ListProcessesOpts — параметры фильтрации процессов.
type ListProcessesOpts struct {
	SubjectID string
	Workflow  string
	Status    string
	Limit     int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workflows ---

// ListWorkflows возвращает каталог workflow'ов.
func (c *Client) ListWorkflows() ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.list("/api/v1/workflows", nil, &workflows)
	return workflows, err
}

// StartProcess запускает процесс workflow.
func (c *Client) StartProcess(workflow string, req StartProcessRequest) (*ProcessResponse, error) {
	var p ProcessResponse
	err := c.post("/api/v1/workflows/"+workflow+"/processes", req, &p)
	return &p, err
}

// --- Processes ---

// ListProcesses возвращает список процессов с фильтрацией.
func (c *Client) ListProcesses(opts ListProcessesOpts) ([]ProcessResponse, error) {
	params := url.Values{}
	if opts.SubjectID != "" {
		params.Set("subject_id", opts.SubjectID)
	}
	if opts.Workflow != "" {
		params.Set("workflow", opts.Workflow)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var processes []ProcessResponse
	err := c.list("/api/v1/processes", params, &processes)
	return processes, err
}

// GetProcess возвращает процесс по ID.
func (c *Client) GetProcess(id string) (*ProcessResponse, error) {
	var p ProcessResponse
	err := c.get("/api/v1/processes/"+id, &p)
	return &p, err
}

// ListProcessSteps возвращает журнал шагов процесса.
func (c *Client) ListProcessSteps(id string) ([]StepEntryResponse, error) {
	var entries []StepEntryResponse
	err := c.list("/api/v1/processes/"+id+"/steps", nil, &entries)
	return entries, err
}

// ResumeProcess передаёт ввод оператора приостановленному процессу.
func (c *Client) ResumeProcess(id string, req ResumeRequest) (*ProcessResponse, error) {
	var p ProcessResponse
	err := c.post("/api/v1/processes/"+id+"/resume", req, &p)
	return &p, err
}

// RetryProcess повторяет упавший шаг процесса.
func (c *Client) RetryProcess(id string, force bool) (*ProcessResponse, error) {
	var p ProcessResponse
	err := c.post("/api/v1/processes/"+id+"/retry", RetryRequest{Force: force}, &p)
	return &p, err
}

// AbortProcess прерывает процесс.
func (c *Client) AbortProcess(id string) (*ProcessResponse, error) {
	var p ProcessResponse
	err := c.post("/api/v1/processes/"+id+"/abort", nil, &p)
	return &p, err
}

// --- Engine ---

// GetEngine возвращает состояние движка.
func (c *Client) GetEngine() (*EngineResponse, error) {
	var e EngineResponse
	err := c.get("/api/v1/engine", &e)
	return &e, err
}

// PauseEngine переводит движок на паузу.
func (c *Client) PauseEngine() (*EngineResponse, error) {
	var e EngineResponse
	err := c.post("/api/v1/engine/pause", nil, &e)
	return &e, err
}

// ResumeEngine возвращает движок в работу.
func (c *Client) ResumeEngine() (*EngineResponse, error) {
	var e EngineResponse
	err := c.post("/api/v1/engine/resume", nil, &e)
	return &e, err
}

// --- Subjects ---

// ListSubjects возвращает список subject'ов.
func (c *Client) ListSubjects(limit int) ([]SubjectResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var subjects []SubjectResponse
	err := c.list("/api/v1/subjects", params, &subjects)
	return subjects, err
}

// CreateSubject создаёт subject.
func (c *Client) CreateSubject(req CreateSubjectRequest) (*SubjectResponse, error) {
	var s SubjectResponse
	err := c.post("/api/v1/subjects", req, &s)
	return &s, err
}

// GetSubject возвращает subject по ID.
func (c *Client) GetSubject(id string) (*SubjectResponse, error) {
	var s SubjectResponse
	err := c.get("/api/v1/subjects/"+id, &s)
	return &s, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
