package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	AFIP      AFIPConfig
	Loyverse  LoyverseConfig
	Drive     DriveConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Name  string
	Env   string
	Port  string
	Debug bool
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Timezone string
}

// StorageConfig selects the ledger backend: "postgres" or "file".
type StorageConfig struct {
	Driver   string
	FilePath string
}

type AFIPConfig struct {
	CUIT        int64
	PointOfSale int
	WSFEURL     string
	Timeout     time.Duration
	// MaxTotal rejects documents above this amount when > 0 (safe mode).
	MaxTotal float64
	// WSAA access ticket, obtained out of band and injected at startup.
	// TAExpiry is RFC3339; when empty the ticket is assumed good for 12h.
	Token    string
	Sign     string
	TAExpiry string
}

type LoyverseConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

type JWTConfig struct {
	Secret      string
	APIKey      string
	ExpiryHours time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

type RateLimitConfig struct {
	Requests int
	Duration int
}

func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables: %v", err)
	}

	// Set defaults
	viper.SetDefault("APP_NAME", "facturable-api")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("APP_DEBUG", true)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_NAME", "facturable")
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "postgres")
	viper.SetDefault("DB_SSL_MODE", "disable")
	viper.SetDefault("DB_TIMEZONE", "America/Argentina/Buenos_Aires")
	viper.SetDefault("STORAGE_DRIVER", "postgres")
	viper.SetDefault("STORAGE_FILE_PATH", "./facturas_db.json")
	viper.SetDefault("AFIP_PTO_VTA", 1)
	viper.SetDefault("AFIP_WSFE_URL", "https://servicios1.afip.gov.ar/wsfev1/service.asmx")
	viper.SetDefault("AFIP_TIMEOUT_SECONDS", 25)
	viper.SetDefault("AFIP_MAX_TOTAL", 0.0)
	viper.SetDefault("LOYVERSE_BASE_URL", "https://api.loyverse.com/v1.0")
	viper.SetDefault("LOYVERSE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("JWT_SECRET", "change-this-secret-in-production")
	viper.SetDefault("JWT_EXPIRY_HOURS", 24)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("CORS_ALLOWED_HEADERS", []string{})
	viper.SetDefault("RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("RATE_LIMIT_DURATION", 60)

	return &Config{
		App: AppConfig{
			Name:  viper.GetString("APP_NAME"),
			Env:   viper.GetString("APP_ENV"),
			Port:  viper.GetString("APP_PORT"),
			Debug: viper.GetBool("APP_DEBUG"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			SSLMode:  viper.GetString("DB_SSL_MODE"),
			Timezone: viper.GetString("DB_TIMEZONE"),
		},
		Storage: StorageConfig{
			Driver:   viper.GetString("STORAGE_DRIVER"),
			FilePath: viper.GetString("STORAGE_FILE_PATH"),
		},
		AFIP: AFIPConfig{
			CUIT:        viper.GetInt64("AFIP_CUIT"),
			PointOfSale: viper.GetInt("AFIP_PTO_VTA"),
			WSFEURL:     viper.GetString("AFIP_WSFE_URL"),
			Timeout:     time.Duration(viper.GetInt("AFIP_TIMEOUT_SECONDS")) * time.Second,
			MaxTotal:    viper.GetFloat64("AFIP_MAX_TOTAL"),
			Token:       viper.GetString("AFIP_TOKEN"),
			Sign:        viper.GetString("AFIP_SIGN"),
			TAExpiry:    viper.GetString("AFIP_TA_EXPIRY"),
		},
		Loyverse: LoyverseConfig{
			BaseURL: viper.GetString("LOYVERSE_BASE_URL"),
			Token:   viper.GetString("LOYVERSE_TOKEN"),
			Timeout: time.Duration(viper.GetInt("LOYVERSE_TIMEOUT_SECONDS")) * time.Second,
		},
		Drive: DriveConfig{
			ClientID:     viper.GetString("GOOGLE_CLIENT_ID"),
			ClientSecret: viper.GetString("GOOGLE_CLIENT_SECRET"),
			RefreshToken: viper.GetString("GOOGLE_REFRESH_TOKEN"),
			FolderID:     viper.GetString("GOOGLE_DRIVE_FOLDER_ID"),
		},
		JWT: JWTConfig{
			Secret:      viper.GetString("JWT_SECRET"),
			APIKey:      viper.GetString("API_KEY"),
			ExpiryHours: time.Duration(viper.GetInt("JWT_EXPIRY_HOURS")) * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: viper.GetStringSlice("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: viper.GetStringSlice("CORS_ALLOWED_METHODS"),
			AllowedHeaders: viper.GetStringSlice("CORS_ALLOWED_HEADERS"),
		},
		RateLimit: RateLimitConfig{
			Requests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			Duration: viper.GetInt("RATE_LIMIT_DURATION"),
		},
	}
}

func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.Timezone
}
