package events

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"colonycore/internal/colony"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Trigger contexts a RANDOM definition may roll in.
const (
	ContextProduction = "production"
	ContextShopOpen   = "shop_open"
	ContextColonyView = "colony_view"
	ContextMarket     = "market"
)

var knownContexts = map[string]bool{
	ContextProduction: true,
	ContextShopOpen:   true,
	ContextColonyView: true,
	ContextMarket:     true,
}

var ErrInvalidDefinition = errors.New("invalid event definition")

type Definition struct {
	ID        string               `yaml:"id"`
	Name      string               `yaml:"name"`
	Category  colony.EventCategory `yaml:"category"`
	Global    bool                 `yaml:"global"`
	Duration  time.Duration        `yaml:"duration"`
	Modifiers map[string]float64   `yaml:"modifiers"`

	// RANDOM
	Probability    float64 `yaml:"probability,omitempty"`
	TriggerContext string  `yaml:"trigger_context,omitempty"`

	// SCHEDULED
	Every     time.Duration `yaml:"every,omitempty"`
	Offset    time.Duration `yaml:"offset,omitempty"`
	WarningMs int64         `yaml:"warning_ms,omitempty"`
}

func (d Definition) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidDefinition, d.ID, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fail("name is required")
	}
	if d.Duration <= 0 {
		return fail("duration must be > 0")
	}
	if len(d.Modifiers) == 0 {
		return fail("at least one modifier is required")
	}
	for key, mult := range d.Modifiers {
		if !ValidKey(key) {
			return fail("unknown modifier key %s", key)
		}
		if mult <= 0 {
			return fail("modifier %s must be > 0", key)
		}
	}
	switch d.Category {
	case colony.EventScheduled:
		if d.Every <= 0 {
			return fail("scheduled event needs every > 0")
		}
		if d.WarningMs < 0 {
			return fail("warning_ms must be >= 0")
		}
	case colony.EventRandom:
		if d.Probability <= 0 || d.Probability > 1 {
			return fail("probability must be in (0,1]")
		}
		if !knownContexts[d.TriggerContext] {
			return fail("unknown trigger context %q", d.TriggerContext)
		}
	case colony.EventTriggered:
	default:
		return fail("unknown category %q", d.Category)
	}
	return nil
}

// Instantiate builds an active event starting at start. Targets are ignored
// for global definitions.
func (d Definition) Instantiate(start time.Time, targets []string) colony.ActiveEvent {
	mods := make(map[string]float64, len(d.Modifiers))
	for k, v := range d.Modifiers {
		mods[k] = v
	}
	ev := colony.ActiveEvent{
		ID:           uuid.NewString(),
		DefinitionID: d.ID,
		Name:         d.Name,
		Type:         d.Category,
		Modifiers:    mods,
		IsGlobal:     d.Global,
		StartTime:    start.UTC(),
		EndTime:      start.UTC().Add(d.Duration),
		Status:       colony.EventActive,
	}
	if !d.Global {
		ev.TargetPlayerIDs = append([]string(nil), targets...)
	}
	return ev
}

type Catalog struct {
	defs []Definition
	byID map[string]Definition
}

type catalogFile struct {
	Events []Definition `yaml:"events"`
}

// LoadCatalog parses and validates YAML event definitions.
func LoadCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse event catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]Definition, len(file.Events))}
	for _, d := range file.Events {
		d.Category = colony.EventCategory(strings.ToUpper(string(d.Category)))
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidDefinition, d.ID)
		}
		c.byID[d.ID] = d
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// DefaultCatalog loads the definitions shipped with the binary.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultCatalog)
}

func (c *Catalog) Definitions() []Definition {
	return append([]Definition(nil), c.defs...)
}

func (c *Catalog) Definition(id string) (Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

type Rand interface {
	Float64() float64
}

// Roll runs one Bernoulli draw per RANDOM definition bound to
// triggerContext and returns the ones that fired.
func (c *Catalog) Roll(triggerContext string, r Rand) []Definition {
	var fired []Definition
	for _, d := range c.defs {
		if d.Category != colony.EventRandom || d.TriggerContext != triggerContext {
			continue
		}
		if r.Float64() < d.Probability {
			fired = append(fired, d)
		}
	}
	return fired
}

type ScheduledStart struct {
	Definition Definition
	Start      time.Time
}

// DueScheduled returns the latest cadence boundary of each SCHEDULED
// definition that falls in (from, to]. Boundaries are Offset + k*Every
// since the Unix epoch.
func (c *Catalog) DueScheduled(from, to time.Time) []ScheduledStart {
	if !to.After(from) {
		return nil
	}
	var out []ScheduledStart
	for _, d := range c.defs {
		if d.Category != colony.EventScheduled {
			continue
		}
		boundary := latestBoundary(d, to)
		if boundary.After(from) {
			out = append(out, ScheduledStart{Definition: d, Start: boundary})
		}
	}
	return out
}

func latestBoundary(d Definition, at time.Time) time.Time {
	since := at.UTC().Sub(time.Unix(0, 0).UTC()) - d.Offset
	if since < 0 {
		return time.Unix(0, 0).UTC().Add(d.Offset - d.Every)
	}
	k := since / d.Every
	return time.Unix(0, 0).UTC().Add(d.Offset + k*d.Every)
}
