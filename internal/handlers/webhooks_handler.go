package handlers

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/storefront-fulfillment/internal/validation"
)

// maxWebhookBody caps what a gateway may post.
const maxWebhookBody = 1 << 20

// CarrierTokenHeader carries the shared secret configured on the carrier's webhook.
const CarrierTokenHeader = "X-Api-Key"

// paymentWebhook verifies the raw body against the rail's signature scheme. Once an
// event is authentic it is acknowledged with 200 even when processing fails: failures
// are recorded and alerted, and a gateway redelivery would only repeat them.
func (a *api) paymentWebhook(c *gin.Context) {
	rail, ok := a.cfg.Payments.Rail(c.Param("rail"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_rail"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}
	ev, err := rail.ParseWebhook(body, c.Request.Header)
	if err != nil {
		a.writeError(c, err)
		return
	}

	fields := log.Fields{"rail": ev.Rail, "event_id": ev.ID, "event_type": ev.Type}
	if err := a.cfg.Fulfillment.HandlePaymentEvent(c.Request.Context(), ev); err != nil {
		a.logger.WithError(err).WithFields(fields).Error("payment event processing failed")
	} else {
		a.logger.WithFields(fields).Debug("payment event processed")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (a *api) shipmentWebhook(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if want := a.cfg.CarrierWebhookToken; want != "" {
			got := c.GetHeader(CarrierTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				a.logger.WithField("remote_addr", c.ClientIP()).Warn("carrier webhook rejected")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
				return
			}
		}
		var req validation.ShipmentWebhook
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		err := a.cfg.Fulfillment.HandleShipmentWebhook(c.Request.Context(), fulfillment.ShipmentUpdate{
			AWB:           req.AWB,
			CurrentStatus: req.CurrentStatus,
			Reason:        req.Reason,
		})
		if err != nil {
			a.logger.WithError(err).WithField("awb", req.AWB).Error("shipment update processing failed")
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
