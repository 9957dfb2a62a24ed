package ports

import "github.com/gin-gonic/gin"

type AdminHandler interface {
	ListConnections(c *gin.Context)
	GetConnection(c *gin.Context)
	DisconnectConnection(c *gin.Context)
	ListHistory(c *gin.Context)
	QueueStats(c *gin.Context)
	SetRelay(c *gin.Context)
}
