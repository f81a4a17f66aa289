package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chowcity/chowcity-client/internal/api"
	"github.com/chowcity/chowcity-client/internal/cart"
	"github.com/chowcity/chowcity-client/internal/checkout"
	"github.com/chowcity/chowcity-client/internal/config"
	"github.com/chowcity/chowcity-client/internal/events"
	"github.com/chowcity/chowcity-client/internal/identity"
	"github.com/chowcity/chowcity-client/internal/livemap"
	"github.com/chowcity/chowcity-client/internal/logging"
	"github.com/chowcity/chowcity-client/internal/models"
	"github.com/chowcity/chowcity-client/internal/rider"
	"github.com/chowcity/chowcity-client/internal/store"
)

func main() {
	role := flag.String("role", "customer", "client role: customer, rider or map")
	flag.Parse()

	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	config.MustNonEmpty(configuration.API_BASE_URL, "API_BASE_URL")
	config.MustNonEmpty(configuration.EVENTS_URL, "EVENTS_URL")

	logger := logging.New(configuration.LOG_LEVEL)

	st, err := store.Open(configuration.STORE_PATH)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}

	apiClient := api.NewClient(configuration.API_BASE_URL)
	if configuration.SESSION_TOKEN != "" {
		apiClient.SetToken(configuration.SESSION_TOKEN)
	}

	channel := events.New(configuration.EVENTS_URL, logger)
	channel.Connect()

	ctx := logging.IntoContext(context.Background(), logger)

	carts := cart.NewManager(st, channel, apiClient, logger)
	if err := carts.Load(ctx); err != nil {
		logger.Warn("cart_load_error", "error", err)
	}
	carts.Start()

	if settings, err := apiClient.Settings(ctx); err != nil {
		logger.Warn("settings_fetch_error", "error", err)
	} else {
		carts.SetDeliveryFee(settings.DeliveryFee)
	}

	ident := identity.NewManager(st, channel, apiClient, logger)
	if err := ident.Load(ctx); err != nil {
		logger.Warn("profile_load_error", "error", err)
	}
	ident.Start()
	channel.OnReconnect(func() {
		ident.ResyncOrders(context.Background())
	})

	flow := checkout.NewFlow(carts, ident, apiClient, st, logger)
	var callback *checkout.CallbackServer

	var broadcaster *rider.Broadcaster
	var consumer *livemap.Consumer

	switch *role {
	case "customer":
		callback = checkout.NewCallbackServer(flow, logger)
		go func() {
			if err := callback.Start(configuration.CALLBACK_ADDRESS); err != nil {
				logger.Error("callback_server_error", "error", err)
			}
		}()
		// Customers track their rider on the order map too.
		consumer = livemap.NewConsumer(channel, logger)
		consumer.Start()
	case "rider":
		config.MustNonEmpty(configuration.RIDER_ID, "RIDER_ID")
		locator := newFileLocator(os.Getenv("LOCATION_FILE"))
		broadcaster = rider.NewBroadcaster(configuration.RIDER_ID, locator, channel, apiClient, logger)
		if d, err := time.ParseDuration(configuration.LOCATION_INTERVAL); err == nil && d > 0 {
			broadcaster.SetInterval(d)
		}
		if err := broadcaster.GoOnline(ctx); err != nil {
			logger.Error("go_online_error", "error", err)
		}
		consumer = livemap.NewConsumer(channel, logger)
		consumer.Start()
	case "map":
		consumer = livemap.NewConsumer(channel, logger)
		consumer.OnResize(func(count int) {
			logger.Info("map_markers_changed", "count", count)
		})
		consumer.Start()
	default:
		log.Fatalf("unknown role %q", *role)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if broadcaster != nil {
		if err := broadcaster.GoOffline(shutdownCtx); err != nil {
			logger.Warn("go_offline_error", "error", err)
		}
	}
	if consumer != nil {
		consumer.Stop()
	}
	if callback != nil {
		if err := callback.Shutdown(shutdownCtx); err != nil {
			logger.Warn("callback_shutdown_error", "error", err)
		}
	}
	carts.Stop()
	ident.Stop()
	if err := channel.Close(); err != nil {
		logger.Warn("events_close_error", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}

	logger.Info("shutdown complete")
}

// fileLocator reads "lat,lng" from a file kept fresh by an external GPS
// bridge. Headless stand-in for the browser geolocation API.
type fileLocator struct {
	path string
}

func newFileLocator(path string) *fileLocator {
	if path == "" {
		path = "location.txt"
	}
	return &fileLocator{path: path}
}

func (l *fileLocator) Locate(ctx context.Context) (models.LatLng, error) {
	if err := ctx.Err(); err != nil {
		return models.LatLng{}, err
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return models.LatLng{}, fmt.Errorf("read location: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ",", 2)
	if len(parts) != 2 {
		return models.LatLng{}, fmt.Errorf("malformed location %q", strings.TrimSpace(string(data)))
	}
	var loc models.LatLng
	if _, err := fmt.Sscanf(parts[0], "%f", &loc.Lat); err != nil {
		return models.LatLng{}, fmt.Errorf("parse lat: %w", err)
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f", &loc.Lng); err != nil {
		return models.LatLng{}, fmt.Errorf("parse lng: %w", err)
	}
	return loc, nil
}
