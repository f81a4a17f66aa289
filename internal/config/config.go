package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	API_BASE_URL      string
	EVENTS_URL        string
	STORE_PATH        string
	LOG_LEVEL         string
	SESSION_TOKEN     string
	CALLBACK_ADDRESS  string
	RIDER_ID          string
	LOCATION_INTERVAL string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		API_BASE_URL:      os.Getenv("API_BASE_URL"),
		EVENTS_URL:        os.Getenv("EVENTS_URL"),
		STORE_PATH:        os.Getenv("STORE_PATH"),
		LOG_LEVEL:         os.Getenv("LOG_LEVEL"),
		SESSION_TOKEN:     os.Getenv("SESSION_TOKEN"),
		CALLBACK_ADDRESS:  os.Getenv("CALLBACK_ADDRESS"),
		RIDER_ID:          os.Getenv("RIDER_ID"),
		LOCATION_INTERVAL: os.Getenv("LOCATION_INTERVAL"),
	}

	if config.STORE_PATH == "" {
		config.STORE_PATH = "chowcity.db"
	}
	if config.CALLBACK_ADDRESS == "" {
		config.CALLBACK_ADDRESS = "127.0.0.1:8974"
	}

	return config, nil
}

func MustNonEmpty(value, envName string) {
	if value == "" {
		log.Fatalf("missing required env %s", envName)
	}
}
