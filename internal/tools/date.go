package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codex-rag/internal/domain"
)

const DateToolName = "get_todays_date"

// dateLayouts maps the strftime formats offered to the model to Go layouts.
var dateLayouts = map[string]string{
	"%Y-%m-%d": "2006-01-02",
	"%d":       "02",
	"%m":       "01",
	"%Y":       "2006",
}

var dateToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"date_format": {
			"type": "string",
			"enum": ["%Y-%m-%d", "%d", "%m", "%Y"],
			"default": "%Y-%m-%d",
			"description": "The date format to return today's date in."
		}
	},
	"required": ["date_format"]
}`)

type dateArgs struct {
	DateFormat string `json:"date_format"`
}

// DateTool returns today's date in a requested format.
type DateTool struct {
	now func() time.Time
}

func NewDateTool(now func() time.Time) *DateTool {
	if now == nil {
		now = time.Now
	}
	return &DateTool{now: now}
}

func (d *DateTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        DateToolName,
		Description: "A tool that returns today's date in the date format requested. Options are: 'YYYY-MM-DD', 'DD', 'MM', 'YYYY'.",
		Parameters:  dateToolSchema,
	}
}

func (d *DateTool) Call(_ context.Context, raw json.RawMessage) (any, error) {
	var args dateArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args.DateFormat == "" {
		args.DateFormat = "%Y-%m-%d"
	}
	layout, ok := dateLayouts[args.DateFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported date_format %q", args.DateFormat)
	}
	return d.now().Format(layout), nil
}
