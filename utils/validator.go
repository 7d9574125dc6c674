package utils

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"outreachly/engine"
	"outreachly/models"
)

var validate = validator.New()

// ValidateStruct runs tag-based validation over a request payload
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errors []string
	for _, err := range err.(validator.ValidationErrors) {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			errors = append(errors, field+" is required")
		case "min":
			errors = append(errors, field+" must be at least "+param)
		case "max":
			errors = append(errors, field+" must be at most "+param)
		case "email":
			errors = append(errors, field+" must be a valid email")
		case "oneof":
			errors = append(errors, field+" must be one of: "+param)
		default:
			errors = append(errors, field+" is invalid")
		}
	}

	return fmt.Errorf(strings.Join(errors, ", "))
}

// ValidateTimingPolicy rejects malformed sequence timing configuration
// before it can ever reach the scheduler.
func ValidateTimingPolicy(seq *models.Sequence) error {
	switch seq.TimingMode {
	case models.TimingModeImmediate:
		// Nothing to check.
	case models.TimingModeFixed:
		if _, err := parseWallClock(seq.SendAt); err != nil {
			return &engine.ConfigurationError{Field: "send_at", Reason: err.Error()}
		}
	case models.TimingModeWindow:
		if err := validateWindows(seq); err != nil {
			return err
		}
	default:
		return &engine.ConfigurationError{Field: "timing_mode", Reason: "unknown mode: " + seq.TimingMode}
	}

	if seq.SendDays != nil && len(seq.SendDays) == 0 {
		return &engine.ConfigurationError{Field: "send_days", Reason: "weekday allow-list cannot be empty"}
	}
	for _, day := range seq.SendDays {
		if day < time.Sunday || day > time.Saturday {
			return &engine.ConfigurationError{Field: "send_days", Reason: fmt.Sprintf("invalid weekday: %d", day)}
		}
	}

	if seq.FallbackTimezone != "" {
		if _, err := time.LoadLocation(seq.FallbackTimezone); err != nil {
			return &engine.ConfigurationError{Field: "fallback_timezone", Reason: err.Error()}
		}
	}

	return nil
}

func validateWindows(seq *models.Sequence) error {
	type window struct{ start, end int }

	raw := []models.SendWindow{{Start: seq.WindowStart, End: seq.WindowEnd}}
	raw = append(raw, seq.ExtraWindows...)

	windows := make([]window, 0, len(raw))
	for _, w := range raw {
		start, err := parseWallClock(w.Start)
		if err != nil {
			return &engine.ConfigurationError{Field: "window_start", Reason: err.Error()}
		}
		end, err := parseWallClock(w.End)
		if err != nil {
			return &engine.ConfigurationError{Field: "window_end", Reason: err.Error()}
		}
		if end <= start {
			return &engine.ConfigurationError{Field: "window_end", Reason: "window end must be after start"}
		}
		windows = append(windows, window{start: start, end: end})
	}

	// Multiple windows per day must not overlap.
	sort.Slice(windows, func(i, j int) bool { return windows[i].start < windows[j].start })
	for i := 1; i < len(windows); i++ {
		if windows[i].start < windows[i-1].end {
			return &engine.ConfigurationError{Field: "extra_windows", Reason: "send windows overlap"}
		}
	}

	return nil
}

func parseWallClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("not a HH:MM time: %q", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}
