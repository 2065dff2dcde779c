package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/sevakavakians/kato/pkg/event"
)

// Sentinel errors the executor (pkg/engine) maps onto the error taxonomy
// of §7. Adapters wrap these with context via fmt.Errorf("...: %w", ...).
var (
	ErrNotFound      = errors.New("session: not found")
	ErrLeaseExpired  = errors.New("session: lease expired")
	ErrInvalidConfig = errors.New("session: invalid config")
)

// Config holds the recognized per-session options. The zero value is not
// valid; use DefaultConfig and apply overrides, then call Validate.
type Config struct {
	KBID string `json:"kb_id"`

	MaxPatternLength int     `json:"max_pattern_length"`
	RecallThreshold  float64 `json:"recall_threshold"`
	MaxPredictions   int     `json:"max_predictions"`
	Persistence      int     `json:"persistence"`
	Quiescence       int     `json:"quiescence"`

	SortEvents              bool `json:"sort_events"`
	ProcessPredictions      bool `json:"process_predictions"`
	AlwaysUpdateFrequencies bool `json:"always_update_frequencies"`

	// Reserved for an external action layer; the engine never interprets
	// these, only carries and returns them.
	AutoActMethod    string  `json:"auto_act_method"`
	AutoActThreshold float64 `json:"auto_act_threshold"`

	SessionTTL        time.Duration `json:"session_ttl"`
	SessionAutoExtend bool          `json:"session_auto_extend"`
}

// DefaultConfig returns the engine's baseline session configuration.
func DefaultConfig(kbID string) Config {
	return Config{
		KBID:                    kbID,
		MaxPatternLength:        0,
		RecallThreshold:         0.1,
		MaxPredictions:          10,
		Persistence:             5,
		Quiescence:              0,
		SortEvents:              true,
		ProcessPredictions:      true,
		AlwaysUpdateFrequencies: false,
		SessionTTL:              1 * time.Hour,
		SessionAutoExtend:       true,
	}
}

// Validate rejects out-of-range values. A config update that fails
// validation must leave the session state untouched (§7 InvalidInput).
func (c Config) Validate() error {
	if c.KBID == "" {
		return fmt.Errorf("%w: kb_id must not be empty", ErrInvalidConfig)
	}
	if c.MaxPatternLength < 0 {
		return fmt.Errorf("%w: max_pattern_length must be >= 0", ErrInvalidConfig)
	}
	if c.RecallThreshold < 0 || c.RecallThreshold > 1 {
		return fmt.Errorf("%w: recall_threshold must be in [0, 1]", ErrInvalidConfig)
	}
	if c.MaxPredictions < 0 {
		return fmt.Errorf("%w: max_predictions must be >= 0", ErrInvalidConfig)
	}
	if c.Persistence < 0 {
		return fmt.Errorf("%w: persistence must be >= 0", ErrInvalidConfig)
	}
	if c.Quiescence < 0 {
		return fmt.Errorf("%w: quiescence must be >= 0", ErrInvalidConfig)
	}
	if c.AutoActThreshold < 0 || c.AutoActThreshold > 1 {
		return fmt.Errorf("%w: auto_act_threshold must be in [0, 1]", ErrInvalidConfig)
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("%w: session_ttl must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Merge applies overrides on top of c, field by field, and returns the
// merged config unvalidated (the caller still runs Validate on the result).
// Only the fields whose keys appear in set are taken from overrides, and
// they are taken verbatim, zero values included; every other field keeps
// c's value. An entry in set naming a key outside
// the recognized set below is rejected with ErrInvalidConfig rather than
// silently ignored.
func (c Config) Merge(overrides Config, set map[string]bool) (Config, error) {
	merged := c
	for field := range set {
		switch field {
		case "kb_id":
			merged.KBID = overrides.KBID
		case "max_pattern_length":
			merged.MaxPatternLength = overrides.MaxPatternLength
		case "recall_threshold":
			merged.RecallThreshold = overrides.RecallThreshold
		case "max_predictions":
			merged.MaxPredictions = overrides.MaxPredictions
		case "persistence":
			merged.Persistence = overrides.Persistence
		case "quiescence":
			merged.Quiescence = overrides.Quiescence
		case "sort_events":
			merged.SortEvents = overrides.SortEvents
		case "process_predictions":
			merged.ProcessPredictions = overrides.ProcessPredictions
		case "always_update_frequencies":
			merged.AlwaysUpdateFrequencies = overrides.AlwaysUpdateFrequencies
		case "auto_act_method":
			merged.AutoActMethod = overrides.AutoActMethod
		case "auto_act_threshold":
			merged.AutoActThreshold = overrides.AutoActThreshold
		case "session_ttl":
			merged.SessionTTL = overrides.SessionTTL
		case "session_auto_extend":
			merged.SessionAutoExtend = overrides.SessionAutoExtend
		default:
			return Config{}, fmt.Errorf("%w: unrecognized config key %q", ErrInvalidConfig, field)
		}
	}
	return merged, nil
}

// State is the full persisted state of one session: ordered STM events,
// aggregated emotives, effective configuration, and a monotonic revision
// counter that the executor increments on every write. Stores persist
// Revision without comparing it; lost updates are caught by the Lease.
type State struct {
	Events    []event.Event        `json:"events"`
	Emotives  map[string][]float64 `json:"emotives"`
	Config    Config               `json:"config"`
	Revision  uint64               `json:"revision"`
	UpdatedAt time.Time            `json:"updated_at"`

	// ObservationsSinceLearn backs the quiescence option (§6): it counts
	// observations appended since the last learn (auto or manual) and
	// resets to zero whenever a learn actually runs.
	ObservationsSinceLearn int `json:"observations_since_learn"`
}

// NewState returns an empty session state under the given config.
func NewState(cfg Config) State {
	return State{
		Events:   nil,
		Emotives: make(map[string][]float64),
		Config:   cfg,
	}
}

// Lease grants a session-store client exclusive writeback rights. Save
// fails with ErrLeaseExpired if Token no longer matches what the store
// holds. Save does not compare ExpiresAt with the current time; Expired
// reports whether it has passed.
type Lease struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the lease's window has passed as of now.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
