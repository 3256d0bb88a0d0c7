package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/martinemde/selfinstruct/taskloop"
)

// ClockUsage describes the clock command.
var ClockUsage = taskloop.CommandUsage{
	Name:        "clock",
	Use:         "get the current date and time",
	Input:       `"timezone": "<optional IANA time zone, for example Europe/Paris>"`,
	Output:      "the current time and its time zone",
	InputSchema: `{"type":"object","properties":{"timezone":{"type":"string"}}}`,
}

// Clock reports the current time.
type Clock struct {
	location *time.Location
	layout   string
	now      func() time.Time
}

// ClockOptions configures a Clock.
type ClockOptions struct {
	Timezone string `mapstructure:"timezone"`
	// Layout is a Go time layout.
	Layout string `mapstructure:"layout"`
}

// NewClock builds a Clock. Timezone defaults to UTC and layout to RFC 3339.
func NewClock(_ context.Context, config map[string]any) (taskloop.Command, error) {
	opts := ClockOptions{Timezone: "UTC", Layout: time.RFC3339}
	if err := decodeOptions(config, &opts); err != nil {
		return nil, err
	}
	location, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", opts.Timezone, err)
	}
	return &Clock{location: location, layout: opts.Layout, now: time.Now}, nil
}

type clockInput struct {
	Timezone string `json:"timezone"`
}

// ClockResult is returned by Execute.
type ClockResult struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
}

func (c *Clock) Execute(_ context.Context, input json.RawMessage) (any, error) {
	var in clockInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid clock input: %w", err)
		}
	}

	location := c.location
	if in.Timezone != "" {
		var err error
		location, err = time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", in.Timezone)
		}
	}

	now := c.now().In(location)
	return ClockResult{
		Time:     now.Format(c.layout),
		Timezone: location.String(),
		Weekday:  now.Weekday().String(),
	}, nil
}
