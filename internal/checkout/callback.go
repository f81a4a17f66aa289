package checkout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// CallbackServer is the localhost listener that catches the payment
// provider's redirect back into the client and hands the reference to the
// flow. It only ever binds a loopback address.
type CallbackServer struct {
	flow *Flow
	log  *slog.Logger
	e    *echo.Echo
}

func NewCallbackServer(flow *Flow, log *slog.Logger) *CallbackServer {
	s := &CallbackServer{
		flow: flow,
		log:  log.With("component", "checkout_callback"),
	}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.GET("/payment/callback", s.handleCallback)
	s.e = e
	return s
}

func (s *CallbackServer) handleCallback(c echo.Context) error {
	reference := c.QueryParam("reference")
	if reference == "" {
		reference = c.QueryParam("trxref")
	}
	if reference == "" {
		return c.String(http.StatusBadRequest, "missing payment reference")
	}

	order, err := s.flow.Complete(c.Request().Context(), reference)
	if err != nil {
		s.log.Warn("callback_error", "reference", reference, "error", err)
		if errors.Is(err, ErrPaymentFailed) {
			return c.String(http.StatusOK, "Payment could not be confirmed. You have been returned to your cart.")
		}
		return c.String(http.StatusInternalServerError, "something went wrong completing your order")
	}

	return c.String(http.StatusOK, "Order "+order.ID+" confirmed. You can close this window.")
}

// Start begins serving on addr. Blocks until Shutdown.
func (s *CallbackServer) Start(addr string) error {
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *CallbackServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}
