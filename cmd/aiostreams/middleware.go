package main

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/metadata"
)

// createTimerMiddleware logs every request with its duration and status.
func createTimerMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("Handled request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}

// createUserMiddleware decodes the user data from the URL path, assembles
// the per-user resources and validates the configured debrid tokens.
// Handlers below this middleware read the resources from the request's
// locals instead of re-decoding.
func createUserMiddleware(config config, stores *stores, metaClient *metadata.Client, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		udString := c.Params("userData", "")
		if udString == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		ud, err := decodeUserData(udString, logger)
		if err != nil {
			// It's most likely a client-side encoding error
			return c.SendStatus(fiber.StatusBadRequest)
			// The error is already logged by decodeUserData
		}

		clientIP := ""
		if config.ForwardOriginIP {
			if forwardedFor := c.Get("X-Forwarded-For"); forwardedFor != "" {
				clientIP = strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
			} else {
				clientIP = c.IP()
			}
		}

		user, err := createUserResources(ud, config, stores, metaClient, clientIP, logger)
		if err != nil {
			logger.Warn("Couldn't create user resources", zap.Error(err))
			return c.SendStatus(fiber.StatusBadRequest)
		}

		// Valid results are cached inside the clients, so this is cheap on
		// all requests but the first.
		rCtx := c.Context()
		for _, svc := range user.services {
			if err := svc.TestToken(rCtx); err != nil {
				logger.Info("Token check failed", zap.Error(err), zap.String("debridService", svc.ID()))
				return c.SendStatus(fiber.StatusForbidden)
			}
		}

		c.Locals("user", user)
		c.Locals("userData", udString)
		return c.Next()
	}
}
