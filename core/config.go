package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug            bool
		TestMode         bool
		Env              string
		Build            string
		AppName          string
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail string

		Server     ServerConfig
		Database   DatabaseConfig
		School     SchoolConfig
		WhatsApp   WhatsAppConfig
		Redelivery RedeliveryConfig
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// SchoolConfig holds the letterhead and signature block printed on every letter.
	SchoolConfig struct {
		Level        string
		Name         string
		Address      string
		Contact      string
		Place        string
		SigneeTitle  string
		SigneeName   string
		SigneeID     string
		ArchiveEmail string
	}

	WhatsAppConfig struct {
		ClientID    string
		AutoConnect bool
		QRWait      time.Duration
		LogLevel    string
	}

	RedeliveryConfig struct {
		Schedule    string
		BatchSize   int
		MaxAttempts int
		Concurrency int
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// NewConfig loads the configuration from the environment.
// The ENV variable selects the environment (DEV by default) and is also the prefix of every other variable,
// eg. DEV_DATABASE_HOST. A `config/.env.<env>` file is loaded first when present.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Pengaduan")
	v.SetDefault("secretKey", "z1^x@o!kq3-pengaduan-dev-secret-8f$w2")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "pengaduan")
	v.SetDefault("database.user", "pengaduan")
	v.SetDefault("database.password", "pengaduan")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("school.level", "SEKOLAH MENENGAH KEJURUAN")
	v.SetDefault("school.name", "SMK NEGERI 1 EXAMPLE")
	v.SetDefault("school.address", "Jl. Pendidikan No. 123, Kota Example, Provinsi Example")
	v.SetDefault("school.contact", "Telp: (021) 1234567 | Email: info@smkn1.sch.id")
	v.SetDefault("school.place", "Example")
	v.SetDefault("school.signeeTitle", "Kepala Sekolah,")
	v.SetDefault("school.signeeName", "(Nama Kepala Sekolah)")
	v.SetDefault("school.signeeID", "NIP. 123456789012345678")
	v.SetDefault("school.archiveEmail", "")

	v.SetDefault("whatsapp.clientID", "kpsipet-whatsapp")
	v.SetDefault("whatsapp.autoConnect", false)
	v.SetDefault("whatsapp.qrWait", 5*time.Second)
	v.SetDefault("whatsapp.logLevel", "WARN")

	v.SetDefault("redelivery.schedule", "@every 10m")
	v.SetDefault("redelivery.batchSize", 20)
	v.SetDefault("redelivery.maxAttempts", 5)
	v.SetDefault("redelivery.concurrency", 4)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		Env:              env,
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Address:            v.GetString("server.address"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		School: SchoolConfig{
			Level:        v.GetString("school.level"),
			Name:         v.GetString("school.name"),
			Address:      v.GetString("school.address"),
			Contact:      v.GetString("school.contact"),
			Place:        v.GetString("school.place"),
			SigneeTitle:  v.GetString("school.signeeTitle"),
			SigneeName:   v.GetString("school.signeeName"),
			SigneeID:     v.GetString("school.signeeID"),
			ArchiveEmail: v.GetString("school.archiveEmail"),
		},
		WhatsApp: WhatsAppConfig{
			ClientID:    v.GetString("whatsapp.clientID"),
			AutoConnect: v.GetBool("whatsapp.autoConnect"),
			QRWait:      v.GetDuration("whatsapp.qrWait"),
			LogLevel:    v.GetString("whatsapp.logLevel"),
		},
		Redelivery: RedeliveryConfig{
			Schedule:    v.GetString("redelivery.schedule"),
			BatchSize:   v.GetInt("redelivery.batchSize"),
			MaxAttempts: v.GetInt("redelivery.maxAttempts"),
			Concurrency: v.GetInt("redelivery.concurrency"),
		},
	}
}
