package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/offers"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Search    SearchConfig    `mapstructure:"search"`
	Amadeus   AmadeusConfig   `mapstructure:"amadeus"`
	Windows   WindowsConfig   `mapstructure:"windows"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Report    ReportConfig    `mapstructure:"report"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SearchConfig describes the single watched route.
// The *_to dates turn a fixed date into an inclusive range.
type SearchConfig struct {
	Origin          string        `mapstructure:"origin"`
	Destination     string        `mapstructure:"destination"`
	DepartureDate   string        `mapstructure:"departure_date"`
	DepartureDateTo string        `mapstructure:"departure_date_to"`
	ReturnDate      string        `mapstructure:"return_date"`
	ReturnDateTo    string        `mapstructure:"return_date_to"`
	Adults          int           `mapstructure:"adults"`
	Currency        string        `mapstructure:"currency"`
	MaxResults      int           `mapstructure:"max_results"`
	MaxDatePairs    int           `mapstructure:"max_date_pairs"`
	Interval        time.Duration `mapstructure:"interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// AmadeusConfig captures offer search API connectivity.
type AmadeusConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	UserAgent    string `mapstructure:"user_agent"`
}

// WindowsConfig holds departure time-of-day windows. Each leg is evaluated in its own timezone.
type WindowsConfig struct {
	OutboundFrom     string `mapstructure:"outbound_from"`
	OutboundTo       string `mapstructure:"outbound_to"`
	InboundFrom      string `mapstructure:"inbound_from"`
	InboundTo        string `mapstructure:"inbound_to"`
	OutboundTimezone string `mapstructure:"outbound_timezone"`
	InboundTimezone  string `mapstructure:"inbound_timezone"`
}

// AlertingConfig defines the alert threshold and repeat policy.
type AlertingConfig struct {
	ThresholdPerPerson decimal.Decimal `mapstructure:"threshold_per_person"`
	Dedup              string          `mapstructure:"dedup"`
	DedupWindow        time.Duration   `mapstructure:"dedup_window"`
	NotifyDayBest      bool            `mapstructure:"notify_day_best"`
	NotifyErrors       bool            `mapstructure:"notify_errors"`
}

// ReportConfig schedules the daily summary.
type ReportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DailyTime string `mapstructure:"daily_time"`
	Timezone  string `mapstructure:"timezone"`
}

// SchedulerConfig governs search cadence.
type SchedulerConfig struct {
	RunOnStart      bool          `mapstructure:"run_on_start"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// DatabaseConfig selects and tunes the history backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TelegramConfig 描述用于告警和命令的 Telegram 机器人参数。
type TelegramConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BotToken      string        `mapstructure:"bot_token"`
	ChatID        string        `mapstructure:"chat_id"`
	APIBase       string        `mapstructure:"api_base"`
	Mode          string        `mapstructure:"mode"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	RatePerSec    float64       `mapstructure:"rate_per_sec"`
	LinkLocale    string        `mapstructure:"link_locale"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
}

// RedisConfig is used by the shared alert dedup policy.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig enables price event publishing.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// HTTPConfig controls the health, metrics and webhook server.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Error reports an invalid or missing setting. It is fatal at startup.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...any) *Error {
	return &Error{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FLIGHTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flightwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("search.origin", "ATH")
	v.SetDefault("search.destination", "BCN")
	v.SetDefault("search.departure_date", "2026-04-28")
	v.SetDefault("search.return_date", "2026-05-05")
	v.SetDefault("search.departure_date_to", "")
	v.SetDefault("search.return_date_to", "")
	v.SetDefault("search.adults", 2)
	v.SetDefault("search.currency", "EUR")
	v.SetDefault("search.max_results", 50)
	v.SetDefault("search.max_date_pairs", 16)
	v.SetDefault("search.interval", "60m")
	v.SetDefault("search.request_timeout", "40s")

	v.SetDefault("amadeus.base_url", "https://test.api.amadeus.com")
	v.SetDefault("amadeus.user_agent", "")
	v.SetDefault("amadeus.client_id", "")
	v.SetDefault("amadeus.client_secret", "")

	for _, key := range []string{"outbound_from", "outbound_to", "inbound_from", "inbound_to"} {
		v.SetDefault("windows."+key, "")
	}

	v.SetDefault("windows.outbound_timezone", "Europe/Athens")
	v.SetDefault("windows.inbound_timezone", "Europe/Madrid")

	v.SetDefault("alerting.threshold_per_person", "200")
	v.SetDefault("alerting.dedup", "none")
	v.SetDefault("alerting.dedup_window", "6h")
	v.SetDefault("alerting.notify_day_best", true)
	v.SetDefault("alerting.notify_errors", false)

	v.SetDefault("report.enabled", true)
	v.SetDefault("report.daily_time", "22:00")
	v.SetDefault("report.timezone", "Europe/Athens")

	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c7477))

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "flights_history.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.mode", "poll")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.rate_per_sec", 1.0)
	v.SetDefault("telegram.link_locale", "el")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "flightwatch:alert:")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "flightwatch.prices")
	v.SetDefault("kafka.client_id", "flightwatch")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "5s")

	v.SetDefault("export.max_data_points", 100000)
}

// legacyEnv maps the bot's historical variable names onto config keys.
var legacyEnv = map[string][]string{
	"search.origin":                 {"ORIGIN"},
	"search.destination":            {"DESTINATION"},
	"search.departure_date":         {"DEPARTURE_DATE"},
	"search.return_date":            {"RETURN_DATE"},
	"search.adults":                 {"ADULTS"},
	"search.currency":               {"CURRENCY"},
	"amadeus.client_id":             {"AMADEUS_CLIENT_ID"},
	"amadeus.client_secret":         {"AMADEUS_CLIENT_SECRET"},
	"alerting.threshold_per_person": {"ALERT_PER_PERSON"},
	"report.timezone":               {"TIMEZONE"},
	"windows.outbound_timezone":     {"TIMEZONE"},
	"windows.inbound_timezone":      {"TIMEZONE"},
	"database.path":                 {"DB_PATH"},
	"telegram.bot_token":            {"TELEGRAM_TOKEN"},
	"telegram.chat_id":              {"TELEGRAM_CHAT_ID"},
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key, prefixedEnv(key)}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := bindLegacyWindow(v, "outbound", "DEP_WINDOW"); err != nil {
		return err
	}
	if err := bindLegacyWindow(v, "inbound", "RET_WINDOW"); err != nil {
		return err
	}

	if raw, ok := os.LookupEnv("POLL_EVERY_MINUTES"); ok && os.Getenv("FLIGHTWATCH_SEARCH_INTERVAL") == "" {
		minutes, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return invalid("POLL_EVERY_MINUTES", "not an integer: %q", raw)
		}
		v.Set("search.interval", time.Duration(minutes)*time.Minute)
	}

	hour, hasHour := os.LookupEnv("DAILY_SUMMARY_HOUR")
	minute, hasMinute := os.LookupEnv("DAILY_SUMMARY_MINUTE")
	if (hasHour || hasMinute) && os.Getenv("FLIGHTWATCH_REPORT_DAILY_TIME") == "" {
		h, m := 22, 0
		var err error
		if hasHour {
			if h, err = strconv.Atoi(strings.TrimSpace(hour)); err != nil {
				return invalid("DAILY_SUMMARY_HOUR", "not an integer: %q", hour)
			}
		}
		if hasMinute {
			if m, err = strconv.Atoi(strings.TrimSpace(minute)); err != nil {
				return invalid("DAILY_SUMMARY_MINUTE", "not an integer: %q", minute)
			}
		}
		v.Set("report.daily_time", fmt.Sprintf("%02d:%02d", h, m))
	}
	return nil
}

// bindLegacyWindow maps the old inclusive hour bounds (FROM <= hour <= TO) onto a
// half-open window ending at TO+1h. A single bound meant no filter.
func bindLegacyWindow(v *viper.Viper, leg, prefix string) error {
	fromKey, toKey := "windows."+leg+"_from", "windows."+leg+"_to"
	if os.Getenv(prefixedEnv(fromKey)) != "" || os.Getenv(prefixedEnv(toKey)) != "" {
		return nil
	}
	from := strings.TrimSpace(os.Getenv(prefix + "_FROM"))
	to := strings.TrimSpace(os.Getenv(prefix + "_TO"))
	if from == "" || to == "" {
		return nil
	}
	fromHour, err := legacyHour(prefix+"_FROM", from)
	if err != nil {
		return err
	}
	toHour, err := legacyHour(prefix+"_TO", to)
	if err != nil {
		return err
	}
	v.Set(fromKey, fmt.Sprintf("%02d:00", fromHour))
	v.Set(toKey, fmt.Sprintf("%02d:00", (toHour+1)%24))
	return nil
}

func legacyHour(name, raw string) (int, error) {
	h, err := strconv.Atoi(raw)
	if err != nil || h < 0 || h > 23 {
		return 0, invalid(name, "expected an hour 0-23, got %q", raw)
	}
	return h, nil
}

func prefixedEnv(key string) string {
	return "FLIGHTWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			decimalHook(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

func (c *Config) normalise() {
	c.Search.Origin = strings.ToUpper(strings.TrimSpace(c.Search.Origin))
	c.Search.Destination = strings.ToUpper(strings.TrimSpace(c.Search.Destination))
	c.Search.Currency = strings.ToUpper(strings.TrimSpace(c.Search.Currency))
	c.Alerting.Dedup = strings.ToLower(strings.TrimSpace(c.Alerting.Dedup))
	c.Telegram.Mode = strings.ToLower(strings.TrimSpace(c.Telegram.Mode))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Telegram.ChatID = strings.TrimSpace(c.Telegram.ChatID)
}

// Validate performs sanity checks and returns *Error for the first offending key.
func (c *Config) Validate() error {
	if len(c.Search.Origin) != 3 {
		return invalid("search.origin", "expected an IATA code, got %q", c.Search.Origin)
	}
	if len(c.Search.Destination) != 3 {
		return invalid("search.destination", "expected an IATA code, got %q", c.Search.Destination)
	}
	if c.Search.Adults <= 0 {
		return invalid("search.adults", "must be greater than zero")
	}
	if c.Search.Currency == "" {
		return invalid("search.currency", "must be set")
	}
	if c.Search.Interval <= 0 {
		return invalid("search.interval", "must be greater than zero")
	}
	if c.Search.RequestTimeout <= 0 {
		return invalid("search.request_timeout", "must be greater than zero")
	}
	if _, err := c.SearchDates(); err != nil {
		return err
	}
	if !c.Alerting.ThresholdPerPerson.IsPositive() {
		return invalid("alerting.threshold_per_person", "must be greater than zero")
	}
	switch c.Alerting.Dedup {
	case "", "none", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "required when alerting.dedup is redis")
		}
	default:
		return invalid("alerting.dedup", "unknown policy %q", c.Alerting.Dedup)
	}
	if c.Alerting.Dedup != "" && c.Alerting.Dedup != "none" && c.Alerting.DedupWindow <= 0 {
		return invalid("alerting.dedup_window", "must be greater than zero")
	}
	if _, _, err := c.Windows.Parse(); err != nil {
		return err
	}
	if _, err := c.ReportLocation(); err != nil {
		return err
	}
	if _, err := c.DailyReportTime(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return invalid("database.dsn", "required for driver %s", c.Database.Driver)
		}
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return invalid("database.path", "required for driver sqlite")
		}
	case "", "memory":
	default:
		return invalid("database.driver", "unsupported driver %q", c.Database.Driver)
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return invalid("telegram.bot_token", "启用 Telegram 时必须配置")
		}
		if _, err := c.Telegram.ChatIDInt(); err != nil {
			return err
		}
		switch c.Telegram.Mode {
		case "poll", "webhook", "off":
		default:
			return invalid("telegram.mode", "expected poll, webhook or off, got %q", c.Telegram.Mode)
		}
		if c.Telegram.Mode == "webhook" {
			if !c.HTTP.Enabled {
				return invalid("http.enabled", "webhook mode needs the http server")
			}
			if c.Telegram.WebhookSecret == "" {
				return invalid("telegram.webhook_secret", "webhook 模式下必须配置")
			}
		}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return invalid("kafka.brokers", "brokers and topic are required when kafka is enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points", "must be greater than zero")
	}
	return nil
}

// SearchDates holds the parsed travel date ranges.
type SearchDates struct {
	DepartureFrom, DepartureTo calendar.Day
	ReturnFrom, ReturnTo       calendar.Day
}

// SearchDates parses the configured travel dates. Return dates are optional (one-way search).
func (c *Config) SearchDates() (SearchDates, error) {
	var out SearchDates
	var err error
	if out.DepartureFrom, err = calendar.ParseDay(c.Search.DepartureDate); err != nil {
		return out, invalid("search.departure_date", "%v", err)
	}
	out.DepartureTo = out.DepartureFrom
	if c.Search.DepartureDateTo != "" {
		if out.DepartureTo, err = calendar.ParseDay(c.Search.DepartureDateTo); err != nil {
			return out, invalid("search.departure_date_to", "%v", err)
		}
		if out.DepartureTo.Before(out.DepartureFrom) {
			return out, invalid("search.departure_date_to", "before departure_date")
		}
	}
	if c.Search.ReturnDate == "" {
		return out, nil
	}
	if out.ReturnFrom, err = calendar.ParseDay(c.Search.ReturnDate); err != nil {
		return out, invalid("search.return_date", "%v", err)
	}
	out.ReturnTo = out.ReturnFrom
	if c.Search.ReturnDateTo != "" {
		if out.ReturnTo, err = calendar.ParseDay(c.Search.ReturnDateTo); err != nil {
			return out, invalid("search.return_date_to", "%v", err)
		}
		if out.ReturnTo.Before(out.ReturnFrom) {
			return out, invalid("search.return_date_to", "before return_date")
		}
	}
	if out.ReturnTo.Before(out.DepartureFrom) {
		return out, invalid("search.return_date", "every return date is before departure")
	}
	return out, nil
}

// Locations resolves the outbound and inbound leg timezones.
func (w WindowsConfig) Locations() (*time.Location, *time.Location, error) {
	out, err := loadLocation("windows.outbound_timezone", w.OutboundTimezone)
	if err != nil {
		return nil, nil, err
	}
	in, err := loadLocation("windows.inbound_timezone", w.InboundTimezone)
	if err != nil {
		return nil, nil, err
	}
	return out, in, nil
}

// Parse builds the outbound and inbound departure windows.
func (w WindowsConfig) Parse() (offers.Window, offers.Window, error) {
	outLoc, inLoc, err := w.Locations()
	if err != nil {
		return offers.Window{}, offers.Window{}, err
	}
	outbound, err := offers.ParseWindow(w.OutboundFrom, w.OutboundTo, outLoc)
	if err != nil {
		return offers.Window{}, offers.Window{}, invalid("windows.outbound", "%v", err)
	}
	inbound, err := offers.ParseWindow(w.InboundFrom, w.InboundTo, inLoc)
	if err != nil {
		return offers.Window{}, offers.Window{}, invalid("windows.inbound", "%v", err)
	}
	return outbound, inbound, nil
}

// ReportLocation is the timezone that defines calendar days.
func (c *Config) ReportLocation() (*time.Location, error) {
	return loadLocation("report.timezone", c.Report.Timezone)
}

// DailyReportTime parses report.daily_time.
func (c *Config) DailyReportTime() (offers.TimeOfDay, error) {
	tod, err := offers.ParseTimeOfDay(c.Report.DailyTime)
	if err != nil {
		return 0, invalid("report.daily_time", "%v", err)
	}
	return tod, nil
}

// ChatIDInt parses the numeric chat id.
func (t TelegramConfig) ChatIDInt() (int64, error) {
	id, err := strconv.ParseInt(t.ChatID, 10, 64)
	if err != nil {
		return 0, invalid("telegram.chat_id", "expected a numeric chat id, got %q", t.ChatID)
	}
	return id, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func loadLocation(key, name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalid(key, "unknown timezone %q", name)
	}
	return loc, nil
}
