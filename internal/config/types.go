package config

// Config is the daemon configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); empty means the consumer default.
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Gateway   GatewayConfig    `json:"gateway"`
	Logging   LoggingConfig    `json:"logging"`
	Notifier  NotifierConfig   `json:"notifier"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Debug     DebugConfig      `json:"debug,omitempty"`
	Events    EventsConfig     `json:"events,omitempty"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Schedules []ScheduleConfig `json:"schedules,omitempty" validate:"dive"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids" validate:"dive,gt=0"`
	// LogChatID receives operator logs and schedule summaries. 0 disables.
	LogChatID   int64  `json:"log_chat_id"`
	LogThreadID int    `json:"log_thread_id" validate:"gte=0"`
	PollTimeout string `json:"poll_timeout"`
	// CommandTimeout bounds one command handler, including the wait for a
	// dispatch to settle.
	CommandTimeout string `json:"command_timeout"`
}

// GatewayConfig points at the WhatsApp multi-device HTTP gateway.
type GatewayConfig struct {
	BaseURL      string `json:"base_url" validate:"required,url"`
	Username     string `json:"username"`
	Password     string `json:"password"` // never logged
	DeviceHeader string `json:"device_header"`
	DevicesPath  string `json:"devices_path"`
	Timeout      string `json:"timeout"`
	RatePerSec   int    `json:"rate_per_sec" validate:"gte=0"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// NotifierConfig controls the async chat notification pipeline.
type NotifierConfig struct {
	Workers    int `json:"workers" validate:"gte=0,lte=64"`
	QueueSize  int `json:"queue_size" validate:"gte=0"`
	RatePerSec int `json:"rate_per_sec" validate:"gte=0"`
}

// StorageConfig selects the dispatch audit backend.
//
//	"storage": { "driver": "sqlite", "path": "./wasender.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DebugConfig controls the HTTP server exposing /healthz, /metrics and pprof.
// A non-loopback Addr needs Token or AllowInsecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default 127.0.0.1:6060
	Prefix        string `json:"prefix,omitempty"` // default /debug/pprof/
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// EventsConfig enables forwarding of dispatch summaries to RabbitMQ.
type EventsConfig struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url,omitempty" validate:"required_if=Enabled true,omitempty,url"`
	Exchange     string `json:"exchange,omitempty" validate:"required_if=Enabled true"`
	ExchangeKind string `json:"exchange_kind,omitempty" validate:"omitempty,oneof=topic direct fanout"`
	RoutingKey   string `json:"routing_key,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleConfig is one cron-triggered send. Devices ["all"] broadcasts
// through every connected device.
type ScheduleConfig struct {
	Name            string   `json:"name" validate:"required"`
	Spec            string   `json:"spec" validate:"required"`
	Type            string   `json:"type" validate:"required,oneof=user group newsletter status"`
	Recipient       string   `json:"recipient,omitempty"`
	Text            string   `json:"text" validate:"required"`
	Devices         []string `json:"devices,omitempty"`
	Forwarded       bool     `json:"forwarded,omitempty"`
	MentionEveryone bool     `json:"mention_everyone,omitempty"`
	Duration        int      `json:"duration,omitempty" validate:"gte=0"`
	Disabled        bool     `json:"disabled,omitempty"`
}
