package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP      HTTP      `envPrefix:"HTTP_"`
		Logger    Logger    `envPrefix:"LOGGER_"`
		Telemetry Telemetry `envPrefix:"TELEMETRY_"`
		Engine    Engine    `envPrefix:"ENGINE_"`
		Map       Map       `envPrefix:"MAP_"`
		Source    Source    `envPrefix:"SOURCE_"`
		Redis     Redis     `envPrefix:"REDIS_"`
	}

	HTTP struct {
		Server Server `envPrefix:"SERVER_"`
	}

	Server struct {
		Port         string        `env:"PORT" envDefault:"8080"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Telemetry struct {
		Enabled        bool   `env:"ENABLED" envDefault:"false"`
		ServiceName    string `env:"SERVICE_NAME" envDefault:"tilekit"`
		ServiceVersion string `env:"SERVICE_VERSION" envDefault:"1.0.0"`
		Environment    string `env:"ENVIRONMENT" envDefault:"production"`
		OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"otel-collector.observability.svc.cluster.local:4317"`
	}

	// Engine holds the tunables of the tile engine itself: download
	// concurrency, disk cache budget and the fractional-zoom hysteresis
	// thresholds that gate rounded-zoom changes.
	Engine struct {
		ConcurrencyLimit   int           `env:"CONCURRENCY_LIMIT" envDefault:"4" validate:"gt=0"`
		CacheBudgetBytes   int64         `env:"CACHE_BUDGET_BYTES" envDefault:"20971520" validate:"gt=0"`
		CacheDir           string        `env:"CACHE_DIR" envDefault:"tilecache"`
		IndexPath          string        `env:"INDEX_PATH" envDefault:"tilecache/index.db"`
		ZoomHysteresisUp   float64       `env:"ZOOM_HYSTERESIS_UP" envDefault:"0.7" validate:"gt=0,lt=1"`
		ZoomHysteresisDown float64       `env:"ZOOM_HYSTERESIS_DOWN" envDefault:"0.3" validate:"gt=0,lt=1"`
		TickInterval       time.Duration `env:"TICK_INTERVAL" envDefault:"100ms"`
	}

	// Map seeds the initial viewport of the headless engine run.
	Map struct {
		CenterLon    float64       `env:"CENTER_LON" envDefault:"13.397"`
		CenterLat    float64       `env:"CENTER_LAT" envDefault:"52.529" validate:"gt=-90,lt=90"`
		Zoom         float64       `env:"ZOOM" envDefault:"12"`
		ViewWidthPx  int           `env:"VIEW_WIDTH_PX" envDefault:"1024" validate:"gt=0"`
		ViewHeightPx int           `env:"VIEW_HEIGHT_PX" envDefault:"768" validate:"gt=0"`
		FadeDuration time.Duration `env:"FADE_DURATION" envDefault:"500ms"`
	}

	Source struct {
		TileURLTemplate string        `env:"TILE_URL_TEMPLATE" envDefault:"https://tile.openstreetmap.org/{z}/{x}/{y}.png"`
		FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
		UserAgent       string        `env:"USER_AGENT" envDefault:"Tilekit/1.0 (https://github.com/jaennil/tilekit)"`
		Referer         string        `env:"REFERER" envDefault:""`
	}

	Redis struct {
		Enabled  bool   `env:"ENABLED" envDefault:"false"`
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD" envDefault:""`
		DB       int    `env:"DB" envDefault:"0"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
