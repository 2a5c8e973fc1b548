package firewall

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterHandlers adds manual ban and error report endpoints. rg must be
// guarded by the caller. Nothing is registered when the firewall is disabled.
func (f *Firewall) RegisterHandlers(rg *gin.RouterGroup) {
	if f == nil {
		return
	}
	rg.POST("/ban", f.ban)
	rg.POST("/logerr", f.logError)
}

type firewallRequest struct {
	IP     string `form:"ip" json:"ip" binding:"required,ip"`
	Reason string `form:"reason" json:"reason" binding:"required"`
}

func (f *Firewall) bind(c *gin.Context) (*firewallRequest, bool) {
	req := &firewallRequest{}
	if err := c.ShouldBind(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation",
			"message": "Missing required parameters: " + err.Error(),
		})
		return nil, false
	}
	return req, true
}

func (f *Firewall) ban(c *gin.Context) {
	req, ok := f.bind(c)
	if !ok {
		return
	}

	f.fw.BanIP(req.IP, int(f.conf.BanMinutes), req.Reason)
	logger.Info().Str("ip", req.IP).Str("reason", req.Reason).Msg("IP banned manually")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (f *Firewall) logError(c *gin.Context) {
	req, ok := f.bind(c)
	if !ok {
		return
	}

	f.fw.LogIPError(req.IP, req.Reason)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
