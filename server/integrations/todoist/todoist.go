// Package todoist polls the Todoist REST API for today's tasks.
package todoist

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"homeboard/server/integration"
)

func init() {
	integration.RegisterSourceFactory("todoist", New)
}

const tasksURL = "https://api.todoist.com/rest/v2/tasks"

const defaultMaxTasks = 10

const widgetTemplate = `<div class="widget widget-todoist">
  <ul class="task-list">
  {{range .Tasks}}<li class="task{{if .Overdue}} task-overdue{{end}}">{{.Content}}{{if .Due}} <span class="task-due">{{.Due}}</span>{{end}}</li>
  {{else}}<li class="task-empty">All clear</li>
  {{end}}</ul>
</div>`

var tmpl = template.Must(template.New("todoist").Parse(widgetTemplate))

type task struct {
	Content string
	Due     string
	Overdue bool
}

// Source polls the task list for the account behind the configured token.
type Source struct {
	desc     integration.Descriptor
	token    string
	maxTasks int
	client   *http.Client
	logger   *slog.Logger
}

// New creates a todoist source. Credentials: "api_token" (required).
// Settings: "max_tasks" (default 10).
func New(cfg integration.Config, logger *slog.Logger) (integration.Source, error) {
	token := cfg.Credentials["api_token"]
	if token == "" {
		return nil, errors.New("todoist requires an api_token credential")
	}

	maxTasks := defaultMaxTasks
	if v, ok := cfg.Settings["max_tasks"].(int); ok && v > 0 {
		maxTasks = v
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "Todoist"
	}
	interval := cfg.RefreshInterval
	if interval == 0 {
		interval = time.Minute
	}

	return &Source{
		desc: integration.Descriptor{
			Name:            "todoist",
			DisplayName:     displayName,
			RefreshInterval: interval,
			Capability:      integration.CapabilityPolling,
		},
		token:    token,
		maxTasks: maxTasks,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}, nil
}

// Descriptor implements integration.Source.
func (s *Source) Descriptor() integration.Descriptor {
	return s.desc
}

// Pull implements integration.Puller.
func (s *Source) Pull(ctx context.Context) (integration.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tasksURL, nil)
	if err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to build tasks request")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return integration.Result{}, errors.Wrap(err, "tasks request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return integration.Result{}, errors.Errorf("todoist API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to read tasks response")
	}

	return s.parse(body)
}

// parse extracts tasks from the API response, overdue first.
func (s *Source) parse(body []byte) (integration.Result, error) {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return integration.Result{}, errors.New("unexpected tasks response shape")
	}

	today := time.Now().Format("2006-01-02")

	var overdue, upcoming []task
	parsed.ForEach(func(_, item gjson.Result) bool {
		t := task{
			Content: item.Get("content").String(),
			Due:     item.Get("due.date").String(),
		}
		if t.Content == "" {
			return true
		}
		if t.Due != "" && t.Due < today {
			t.Overdue = true
			overdue = append(overdue, t)
		} else {
			upcoming = append(upcoming, t)
		}
		return true
	})

	tasks := append(overdue, upcoming...)
	if len(tasks) > s.maxTasks {
		tasks = tasks[:s.maxTasks]
	}

	payload := map[string]any{
		"task_count":    len(tasks),
		"overdue_count": len(overdue),
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, map[string]any{
			"content": t.Content,
			"due":     t.Due,
			"overdue": t.Overdue,
		})
	}
	payload["tasks"] = items

	var b strings.Builder
	if err := tmpl.Execute(&b, map[string]any{"Tasks": tasks}); err != nil {
		return integration.Result{}, errors.Wrap(err, "failed to render todoist widget")
	}

	return integration.Result{Payload: payload, Rendered: b.String()}, nil
}
