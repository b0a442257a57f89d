package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"capstone-portal-api/config"
	"capstone-portal-api/services"
)

func outboxService() *services.OutboxService {
	return services.NewOutboxService(config.DB, nil)
}

// GetOutboxDeadLetters lists emails that exhausted their retries. They stay
// in the queue table for manual inspection and are never retried again.
func GetOutboxDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	rows, err := outboxService().DeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": rows, "total": len(rows)})
}

// GetOutboxStatus reports how many emails are still waiting for delivery.
func GetOutboxStatus(c *gin.Context) {
	pending, err := outboxService().PendingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
