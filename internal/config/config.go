// Package config loads the YAML deployment file describing every
// configured input (upstream provider) and target (re-served output),
// ported from m3u-filter's src/config.rs and
// src/model/{config,config_input,config_target}.rs. Where the original
// reads a single monolithic mapping file, this config is split the same
// way model.Field/model.Cluster already are: a list of Input blocks
// feeding a list of Target blocks, each target carrying its own
// filter/rename/map/sort pipeline. Per-user bouquets and credentials
// live in internal/userstore's api_proxy.yml, not here.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtreamrelay/xtreamrelay/internal/filter"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/pipeline"
	"github.com/xtreamrelay/xtreamrelay/internal/template"
)

// InputType mirrors config_input.rs's InputType: m3u sources are parsed
// as playlist text, xtream sources are pulled through the player API.
type InputType string

const (
	InputM3U    InputType = "m3u"
	InputXtream InputType = "xtream"
)

// Input describes one upstream provider connection.
type Input struct {
	Name           string    `yaml:"name"`
	Type           InputType `yaml:"type"`
	URL            string    `yaml:"url"`
	Username       string    `yaml:"username,omitempty"`
	Password       string    `yaml:"password,omitempty"`
	EPGURL         string    `yaml:"epg_url,omitempty"`
	MaxConnections int       `yaml:"max_connections"`
	Priority       int       `yaml:"priority"`

	// ResolveDelay throttles get_vod_info/get_series_info detail calls
	// for this input's placeholder VOD/series items, one call per
	// interval (a Go duration string such as "500ms"). Empty means
	// unthrottled. Only meaningful for Xtream inputs; ignored for m3u.
	ResolveDelay string `yaml:"resolve_delay,omitempty"`
}

// ResolveDelayDuration parses ResolveDelay, treating an empty or invalid
// value as no throttling.
func (in Input) ResolveDelayDuration() time.Duration {
	d, _ := time.ParseDuration(in.ResolveDelay)
	return d
}

// RenameRuleSpec is the declarative (unparsed) form of
// pipeline.RenameRule, since regexp.Regexp can't round-trip through
// YAML directly.
type RenameRuleSpec struct {
	Field       string `yaml:"field"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MapperAssignmentSpec is the declarative form of pipeline.MapperAssignment.
type MapperAssignmentSpec struct {
	Field   string `yaml:"field"`
	Value   string `yaml:"value"`
	IsGroup bool   `yaml:"is_group,omitempty"`
}

// MapperRuleSpec is the declarative form of pipeline.MapperRule.
type MapperRuleSpec struct {
	Match       string                 `yaml:"match"`
	Assignments []MapperAssignmentSpec `yaml:"assignments"`
}

// AffixRuleSpec is the declarative form of pipeline.AffixRule.
type AffixRuleSpec struct {
	Field  string `yaml:"field"`
	Prefix string `yaml:"prefix,omitempty"`
	Suffix string `yaml:"suffix,omitempty"`
}

// SortSpec is the declarative form of pipeline.SortConfig: group title
// sorts first, then Field within each group.
type SortSpec struct {
	GroupOrder   string   `yaml:"group_order,omitempty"` // "asc" | "desc"
	Field        string   `yaml:"field"`
	FieldOrder   string   `yaml:"field_order,omitempty"` // "asc" | "desc"
	MatchAsASCII bool     `yaml:"match_as_ascii,omitempty"`
	Sequence     []string `yaml:"sequence,omitempty"`
}

// CounterSpec is the declarative form of pipeline.Counter.
type CounterSpec struct {
	Field   string `yaml:"field"`
	Start   int    `yaml:"start"`
	Padding int    `yaml:"padding,omitempty"`
	Mode    string `yaml:"mode,omitempty"` // "replace" | "prefix" | "suffix"
}

// TemplateSpec is one named, reusable regex fragment that filter/map
// patterns can reference as `!name!`, letting several targets share one
// pattern (e.g. a "junk" group of low-quality tags) without repeating it.
type TemplateSpec struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Target is one configured output: the inputs it draws from and the
// filter/rename/map/sort/counter/affix pipeline applied before storage.
type Target struct {
	Name             string           `yaml:"name"`
	Inputs           []string         `yaml:"inputs"`
	ProcessingOrder  string           `yaml:"processing_order,omitempty"` // FRM, FMR, RFM, RMF, MFR, MRF
	Filter           string           `yaml:"filter,omitempty"`
	RemoveDuplicates bool             `yaml:"remove_duplicates,omitempty"`
	Renames          []RenameRuleSpec `yaml:"rename,omitempty"`
	Mappers          []MapperRuleSpec `yaml:"map,omitempty"`
	Affixes          []AffixRuleSpec  `yaml:"affix,omitempty"`
	Sort             *SortSpec        `yaml:"sort,omitempty"`
	Counter          *CounterSpec     `yaml:"counter,omitempty"`
}

// SchedulerConfig controls periodic re-ingestion, consumed by internal/scheduler.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron,omitempty"` // robfig/cron/v3 expression; default "0 */6 * * *"
}

// RedisConfig, when set, backs internal/sharedstate's connection
// Registry with Redis instead of an in-process map.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db,omitempty"`
}

// HDHRConfig configures the HDHomeRun emulation surface.
type HDHRConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DeviceID     string `yaml:"device_id,omitempty"`
	FriendlyName string `yaml:"friendly_name,omitempty"`
	TunerCount   int    `yaml:"tuner_count,omitempty"`
}

// AdminConfig gates the user-provisioning API (add/remove downstream
// credential) behind a single operator login, distinct from the
// per-user credentials internal/userstore manages for Xtream/HDHomeRun
// clients.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt, same cost as internal/userstore
	JWTSecret    string `yaml:"jwt_secret"`
}

// Config is the root of the YAML deployment file.
type Config struct {
	BaseURL    string          `yaml:"base_url"`
	Listen     string          `yaml:"listen"`
	StorageDir string          `yaml:"storage_dir"`
	UserFile   string          `yaml:"user_file"`
	Inputs     []Input         `yaml:"inputs"`
	Templates  []TemplateSpec  `yaml:"templates,omitempty"`
	Targets    []Target        `yaml:"targets"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Redis      *RedisConfig    `yaml:"redis,omitempty"`
	HDHomeRun  HDHRConfig      `yaml:"hdhomerun"`
	Admin      AdminConfig     `yaml:"admin"`
}

// Load reads and validates a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if _, err := c.TemplateValues(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

// TemplateValues expands every configured named template via
// internal/template, rejecting a config whose templates reference each
// other in a cycle. The result is passed to every Target.PipelineConfig
// call so `!name!` references inside filter/map patterns resolve.
func (c *Config) TemplateValues() (map[string]string, error) {
	templates := make([]template.Template, 0, len(c.Templates))
	for _, t := range c.Templates {
		templates = append(templates, template.Template{Name: t.Name, Value: t.Value})
	}
	return template.NewResolver(templates).Expand()
}

func (c *Config) applyDefaults() {
	if c.StorageDir == "" {
		c.StorageDir = "./storage"
	}
	if c.UserFile == "" {
		c.UserFile = "./api_proxy.yml"
	}
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "0 */6 * * *"
	}
	if c.HDHomeRun.TunerCount <= 0 {
		c.HDHomeRun.TunerCount = 4
	}
	if c.HDHomeRun.DeviceID == "" {
		c.HDHomeRun.DeviceID = "xtreamrelay01"
	}
	if c.HDHomeRun.FriendlyName == "" {
		c.HDHomeRun.FriendlyName = "XtreamRelay"
	}
	for i := range c.Inputs {
		if c.Inputs[i].Type == "" {
			c.Inputs[i].Type = InputM3U
		}
	}
}

// Validate checks referential integrity (every target input name must
// exist) and that Xtream inputs carry credentials, matching
// config_input.rs's check_input_credentials.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Inputs))
	for _, in := range c.Inputs {
		if in.Name == "" {
			return fmt.Errorf("config: input missing name")
		}
		if names[in.Name] {
			return fmt.Errorf("config: duplicate input name %q", in.Name)
		}
		names[in.Name] = true
		if in.Type == InputXtream && (in.Username == "" || in.Password == "") {
			return fmt.Errorf("config: input %q: xtream type requires username and password", in.Name)
		}
	}
	for _, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("config: target missing name")
		}
		for _, dep := range t.Inputs {
			if !names[dep] {
				return fmt.Errorf("config: target %q references unknown input %q", t.Name, dep)
			}
		}
	}
	if c.Admin.Username != "" && (c.Admin.PasswordHash == "" || c.Admin.JWTSecret == "") {
		return fmt.Errorf("config: admin.username set but password_hash or jwt_secret is empty")
	}
	return nil
}

// PipelineConfig compiles a Target's declarative rule specs into a
// pipeline.Config ready for pipeline.Run, compiling every regex and
// filter expression once at load time rather than per item.
func (t Target) PipelineConfig(templateValues map[string]string) (pipeline.Config, error) {
	cfg := pipeline.Config{
		Order:            pipeline.Order(t.ProcessingOrder),
		RemoveDuplicates: t.RemoveDuplicates,
	}
	if cfg.Order == "" {
		cfg.Order = pipeline.OrderFRM
	}

	if t.Filter != "" {
		expr, err := filter.Compile(t.Filter, templateValues)
		if err != nil {
			return cfg, fmt.Errorf("target %q: filter: %w", t.Name, err)
		}
		cfg.Filter = expr
	}

	for _, r := range t.Renames {
		field, ok := model.ParseField(r.Field)
		if !ok {
			return cfg, fmt.Errorf("target %q: rename: unknown field %q", t.Name, r.Field)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return cfg, fmt.Errorf("target %q: rename: %w", t.Name, err)
		}
		cfg.Renames = append(cfg.Renames, pipeline.RenameRule{Field: field, Pattern: re, Replacement: r.Replacement})
	}

	for _, m := range t.Mappers {
		expr, err := filter.Compile(m.Match, templateValues)
		if err != nil {
			return cfg, fmt.Errorf("target %q: map: %w", t.Name, err)
		}
		rule := pipeline.MapperRule{Match: expr}
		for _, a := range m.Assignments {
			field, ok := model.ParseField(a.Field)
			if !ok {
				return cfg, fmt.Errorf("target %q: map: unknown field %q", t.Name, a.Field)
			}
			rule.Assignments = append(rule.Assignments, pipeline.MapperAssignment{Field: field, Value: a.Value, IsGroup: a.IsGroup})
		}
		cfg.Mappers = append(cfg.Mappers, rule)
	}

	for _, a := range t.Affixes {
		field, ok := model.ParseField(a.Field)
		if !ok {
			return cfg, fmt.Errorf("target %q: affix: unknown field %q", t.Name, a.Field)
		}
		prefix, suffix := a.Prefix, a.Suffix
		if templateValues != nil {
			prefix = template.ExpandString(prefix, templateValues)
			suffix = template.ExpandString(suffix, templateValues)
		}
		cfg.Affixes = append(cfg.Affixes, pipeline.AffixRule{Field: field, Prefix: prefix, Suffix: suffix})
	}

	if t.Sort != nil {
		field, ok := model.ParseField(t.Sort.Field)
		if !ok {
			return cfg, fmt.Errorf("target %q: sort: unknown field %q", t.Name, t.Sort.Field)
		}
		sortCfg := &pipeline.SortConfig{
			GroupAscending: t.Sort.GroupOrder != "desc",
			Field:          field,
			FieldAscending: t.Sort.FieldOrder != "desc",
			MatchAsASCII:   t.Sort.MatchAsASCII,
		}
		for _, pattern := range t.Sort.Sequence {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return cfg, fmt.Errorf("target %q: sort sequence: %w", t.Name, err)
			}
			sortCfg.Sequence = append(sortCfg.Sequence, re)
		}
		cfg.Sort = sortCfg
	}

	if t.Counter != nil {
		field, ok := model.ParseField(t.Counter.Field)
		if !ok {
			return cfg, fmt.Errorf("target %q: counter: unknown field %q", t.Name, t.Counter.Field)
		}
		mode := pipeline.CounterReplace
		switch t.Counter.Mode {
		case "prefix":
			mode = pipeline.CounterPrefix
		case "suffix":
			mode = pipeline.CounterSuffix
		}
		cfg.Counter = &pipeline.Counter{Field: field, Start: t.Counter.Start, Padding: t.Counter.Padding, Mode: mode}
	}

	return cfg, nil
}

// RefreshInterval is a sanity-check fallback interval for callers that
// want to log an approximate cadence without parsing the cron
// expression themselves.
func (s SchedulerConfig) RefreshInterval() time.Duration {
	return 6 * time.Hour
}
